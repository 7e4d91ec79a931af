package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/logger"
	"github.com/melih/lighthouse-appliance/internal/preflight"
	"github.com/melih/lighthouse-appliance/internal/volumes"
)

// Backup quiesces the application, archives every volume, resumes the application
// and prunes archives past retention.
func (c *Coordinator) Backup(ctx context.Context) (*Result, error) {
	return c.locked(ctx, func(ctx context.Context) (*Result, error) {
		if err := c.check(ctx, preflight.Checks{Root: true}); err != nil {
			return nil, err
		}

		res := &Result{}
		ctr, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		quiesced := found && ctr.Running
		if quiesced {
			if err := c.service.Stop(ctx); err != nil {
				// already stopped services are fine
				logger.WarnCtx(ctx, "service stop before backup failed", logger.KeyError, err)
			}
		} else {
			res.warn("appliance is not running, archiving volumes as they are")
		}

		arc, backupErr := c.archiver.Backup(ctx)
		if backupErr == nil {
			res.Backup = &arc
			logger.InfoCtx(ctx, "backup created", "archive", arc.Path, "size", arc.Size)
		}

		var resumeErr error
		if quiesced {
			resumeErr = c.service.Start(ctx)
		}

		if backupErr != nil {
			return res, errors.Join(backupErr, resumeErr)
		}
		if resumeErr != nil {
			return res, resumeErr
		}

		pruned, err := c.archiver.Prune(ctx, c.cfg.Storage.Retention)
		if err != nil {
			res.warn("failed to prune old backups: %v", err)
		}
		res.Pruned = pruned
		return res, nil
	})
}

// Restore replaces all persisted state with archivePath and brings the appliance back
// up without running initialization. confirmation must equal ConfirmationWord.
func (c *Coordinator) Restore(ctx context.Context, archivePath, confirmation string) (*Result, error) {
	if archivePath == "" {
		return nil, fmt.Errorf("%w: no archive given", ErrPrecondition)
	}
	if confirmation != ConfirmationWord {
		return nil, fmt.Errorf("%w: restore requires typing %s", ErrNotConfirmed, ConfirmationWord)
	}

	return c.locked(ctx, func(ctx context.Context) (*Result, error) {
		if err := c.check(ctx, preflight.Checks{Root: true, Runtime: true}); err != nil {
			return nil, err
		}
		info, err := os.Stat(archivePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrPrecondition, archivePath)
		}
		if err := volumes.VerifyChecksum(archivePath); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		if err := c.checkPorts(ctx); err != nil {
			return nil, err
		}

		if err := c.removeContainer(ctx); err != nil {
			return nil, err
		}
		logger.InfoCtx(ctx, "restoring volumes", "archive", archivePath)
		if err := c.archiver.Restore(ctx, archivePath); err != nil {
			return nil, err
		}
		return c.provision(ctx, false)
	})
}

// Backups lists archives, newest first.
func (c *Coordinator) Backups() ([]domain.BackupArchive, error) {
	return c.archiver.List()
}
