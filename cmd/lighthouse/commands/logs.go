package commands

import (
	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsTail   string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show appliance container logs",
	Long: `Show the appliance container's stdout and stderr.

Examples:
  # Last 200 lines
  lighthouse logs

  # Follow new output
  lighthouse logs -f

  # Everything
  lighthouse logs --tail all`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().StringVarP(&logsTail, "tail", "n", "200", "Number of lines to show, or \"all\"")
}

func runLogs(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	err = s.coord.Logs(s.ctx, cmd.OutOrStdout(), logsFollow, logsTail)
	explain(cmd.ErrOrStderr(), err)
	return err
}
