package commands

import (
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/lifecycle"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a stopped appliance",
	Long: `Start starts the appliance container if needed, waits for the database and
starts the panel services. It never runs first-time setup.

Examples:
  sudo lighthouse start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
			return s.coord.Start(s.ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the appliance",
	Long: `Stop stops the panel services, then the container. Data is untouched.

Examples:
  sudo lighthouse stop`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
			return s.coord.Stop(s.ctx)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop and start the appliance",
	Long: `Restart runs stop followed by start while holding the lock once.

Examples:
  sudo lighthouse restart`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
			return s.coord.Restart(s.ctx)
		})
	},
}
