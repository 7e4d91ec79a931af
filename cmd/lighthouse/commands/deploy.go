package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/cli/prompt"
	"github.com/melih/lighthouse-appliance/internal/lifecycle"
)

var redeployYes bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the appliance on this host",
	Long: `Deploy creates the data directories, pulls (or builds) the appliance image,
starts the container, waits for the embedded database and then either runs
the one-time panel setup or starts the services against existing data.

Setup only runs when the data directory is empty and no schema exists.
Deploy refuses to run when the container already exists.

Examples:
  # Deploy with the default config
  sudo lighthouse deploy

  # Deploy with a custom config file
  sudo lighthouse deploy --config ./lighthouse.yaml`,
	RunE: runDeploy,
}

var redeployCmd = &cobra.Command{
	Use:   "redeploy",
	Short: "Recreate the container, keeping all data",
	Long: `Redeploy stops and removes the appliance container and creates a fresh one
on top of the existing volumes. Data is kept; setup runs only if the volumes
turn out to be empty.

Examples:
  # Recreate after changing ports in the config
  sudo lighthouse redeploy

  # Skip the confirmation prompt
  sudo lighthouse redeploy --yes`,
	RunE: runRedeploy,
}

func init() {
	redeployCmd.Flags().BoolVarP(&redeployYes, "yes", "y", false, "Do not ask for confirmation")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
		return s.coord.Deploy(s.ctx)
	})
}

func runRedeploy(cmd *cobra.Command, args []string) error {
	if !redeployYes {
		ok, err := prompt.Confirm("Recreate the appliance container")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Redeploy cancelled.")
			return nil
		}
	}
	return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
		return s.coord.Redeploy(s.ctx)
	})
}
