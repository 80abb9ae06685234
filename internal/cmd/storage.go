package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/storage"
)

// backupCmd and cleanupCmd operate on the store directly so they work
// without a running server. The data-dir flock keeps them from racing a
// live server; run them against its store through the REST API instead.

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the discussion store",
		Long:  `Write a backup of the discussion store and prune old backups past the retention limit.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return withStore(ctx, func(store *storage.Store) error {
				path, err := store.Backup(ctx)
				if err != nil {
					return err
				}
				logger.Write(ctx, fmt.Sprintf("Backup written to %s", path))
				return nil
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned discussion files",
		Long:  `Remove discussion files that are no longer referenced by the store index.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return withStore(ctx, func(store *storage.Store) error {
				removed, err := store.Cleanup(ctx)
				if err != nil {
					return err
				}
				logger.Write(ctx, fmt.Sprintf("Removed %d orphaned file(s)", removed))
				return nil
			})
		},
	}
}

func withStore(ctx *Context, fn func(*storage.Store) error) error {
	store, err := storage.Open(ctx.Config.Paths.DataDir,
		storage.WithBackupRetention(ctx.Config.Storage.BackupRetention))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(ctx, "Failed to close storage", "err", err)
		}
	}()
	return fn(store)
}
