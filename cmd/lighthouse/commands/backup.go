package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/cli/output"
	"github.com/melih/lighthouse-appliance/internal/cli/prompt"
	"github.com/melih/lighthouse-appliance/internal/lifecycle"
)

var (
	restoreConfirm string
	backupsJSON    bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive all appliance data",
	Long: `Backup briefly stops the panel services, archives every data volume into a
single compressed file with a BLAKE3 checksum, starts the services again and
prunes archives older than storage.retention.

Examples:
  sudo lighthouse backup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
			return s.coord.Backup(s.ctx)
		})
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backup archives",
	Long: `List backup archives in storage.backup_dir, newest first.

Examples:
  lighthouse backups
  lighthouse backups --json`,
	RunE: runBackups,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Replace all appliance data with a backup",
	Long: `Restore removes the container, replaces every data volume with the contents
of the archive and brings the appliance back up without running setup.

All current data is lost. You must type RESTORE to confirm, or pass
--confirm RESTORE for unattended use.

Examples:
  sudo lighthouse restore /var/backups/lighthouse/backup-20240501-100000.tar.gz
  sudo lighthouse restore ./backup.tar.gz --confirm RESTORE`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	backupsCmd.Flags().BoolVar(&backupsJSON, "json", false, "Output as JSON")
	restoreCmd.Flags().StringVar(&restoreConfirm, "confirm", "", "Skip the prompt by passing the confirmation word")
}

func runBackups(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	archives, err := s.coord.Backups()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if backupsJSON {
		return output.JSON(w, archives)
	}
	if len(archives) == 0 {
		fmt.Fprintf(w, "No backups in %s\n", s.cfg.Storage.BackupDir)
		return nil
	}

	now := time.Now()
	table := output.NewTable("NAME", "SIZE", "AGE")
	for _, a := range archives {
		table.AddRow(a.Name, output.Bytes(a.Size), output.Age(a.CreatedAt, now))
	}
	table.Render(w)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	confirmation := restoreConfirm
	if confirmation == "" {
		typed, err := prompt.ConfirmDanger("This will DELETE all current appliance data", lifecycle.ConfirmationWord)
		if err != nil {
			return err
		}
		confirmation = typed
	}

	return runLifecycle(cmd, func(s *session) (*lifecycle.Result, error) {
		return s.coord.Restore(s.ctx, args[0], confirmation)
	})
}
