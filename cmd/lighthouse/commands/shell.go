package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open a shell inside the appliance",
	Long: `Open an interactive shell inside the running appliance container. The first
shell from application.shell that exists in the image is used.

The command exits with the shell's exit code.

Examples:
  sudo lighthouse shell`,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}

	code, err := s.coord.Shell(s.ctx)
	s.close()
	if err != nil {
		explain(cmd.ErrOrStderr(), err)
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
