package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/cli/output"
	"github.com/melih/lighthouse-appliance/internal/config"
)

var (
	configInitForce bool
	configShowJSON  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage the lighthouse configuration file.

Subcommands:
  init      Write a configuration file with every default filled in
  show      Display the effective configuration
  validate  Validate the configuration file`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file containing every default value to --config.

Examples:
  # Create /etc/lighthouse/config.yaml
  sudo lighthouse config init

  # Create it somewhere else, replacing an existing file
  lighthouse config init --config ./lighthouse.yaml --force`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after file, environment and defaults are merged.

Examples:
  lighthouse config show
  LIGHTHOUSE_PORTS_WEB=8443 lighthouse config show --json`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "Output as JSON")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil && !configInitForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", cfgFile)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), cfgFile); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Configuration file created at: %s\n", cfgFile)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Set ports and storage paths for this host")
	fmt.Fprintf(w, "  2. Deploy with: sudo lighthouse deploy --config %s\n", cfgFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configShowJSON {
		return output.JSON(cmd.OutOrStdout(), cfg)
	}
	return output.YAML(cmd.OutOrStdout(), cfg)
}
