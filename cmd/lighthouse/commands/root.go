// Package commands implements the lighthouse CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "lighthouse",
	Short: "Lighthouse - single-container panel appliance manager",
	Long: `Lighthouse deploys and operates a single-container appliance bundling a web
panel, an embedded MySQL database, nginx, a proxy daemon and an auth component.

Every command that changes the appliance takes a host-wide lock, so two
operators cannot deploy and restore at the same time.

Use "lighthouse [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(redeployCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
