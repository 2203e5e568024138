package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/velocols/colprofile/internal/backup"
	"github.com/velocols/colprofile/internal/catalogue"
	"github.com/velocols/colprofile/internal/models"
)

// withBackups opens the store and backup manager, runs fn and releases both.
func withBackups(fn func(store catalogue.Store, m *backup.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := GetLogger()
	ctx := GetContext()

	httpClient, err := newHTTPClient(cfg, logger)
	if err != nil {
		return err
	}

	manager, err := newBackupManager(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close catalogue")
		}
	}()

	return fn(store, manager)
}

// newBackupsCmd creates the 'backups' command group.
func newBackupsCmd() *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage catalogue snapshots",
		Long: `Catalogue snapshot commands.

Commands:
  list    - List snapshots in the store and the configured sink
  create  - Snapshot the catalogue now`,
	}

	backupsCmd.AddCommand(newBackupsListCmd())
	backupsCmd.AddCommand(newBackupsCreateCmd())
	return backupsCmd
}

func newBackupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalogue snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(func(store catalogue.Store, m *backup.Manager) error {
				infos, err := m.List(GetContext(), store)
				if err != nil {
					return err
				}
				printBackups(cmd.OutOrStdout(), infos)
				return nil
			})
		},
	}
}

func newBackupsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the catalogue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(func(store catalogue.Store, m *backup.Manager) error {
				info, err := m.Snapshot(GetContext(), store)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Snapshot %s: %d cols at %s\n", info.Name, info.ColCount, info.Location)
				return nil
			})
		},
	}
}

// newRestoreCmd creates the 'restore' command.
func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Restore the catalogue from a snapshot",
		Long: `Put every col of a snapshot back into the catalogue, replacing
the current records and profiles of those cols. Cols added after the
snapshot are kept.

The snapshot is looked up in the store first, then in the configured sink.
Use 'colprofile backups list' to see the available names.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(func(store catalogue.Store, m *backup.Manager) error {
				n, err := m.Restore(GetContext(), store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %d cols from %s\n", n, args[0])
				return nil
			})
		},
	}
}

// printBackups writes one line per snapshot.
func printBackups(w io.Writer, infos []models.BackupInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return
	}
	fmt.Fprintf(w, "%-40s %-20s %6s  %s\n", "NAME", "CREATED", "COLS", "LOCATION")
	for _, info := range infos {
		count := "?"
		if info.ColCount >= 0 {
			count = fmt.Sprintf("%d", info.ColCount)
		}
		fmt.Fprintf(w, "%-40s %-20s %6s  %s\n",
			info.Name, info.CreatedAt.UTC().Format(time.DateTime), count, info.Location)
	}
}
