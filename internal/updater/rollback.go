package updater

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// rollback implements the Rolling phase: stop the (possibly running) new
// service, delete the current install directory, restore the backup, and
// start the old service. The caller records new_version as ignored
// regardless of outcome; rollback itself only reports success/failure of
// the filesystem and process steps.
func (r *Runner) rollback(ctx context.Context, reason RollingReason) error {
	r.logger.Warn("updater: rolling back", zap.String("reason", string(reason)))

	// Best-effort stop; a crashed service is already down.
	_ = r.service.Stop(ctx, r.cfg.ServiceWaitTimeout)

	if err := os.RemoveAll(r.cfg.InstallDir); err != nil {
		return fmt.Errorf("failed to remove failed install dir: %w", err)
	}
	if err := copyTree(r.backupDir(), r.cfg.InstallDir, nil); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	if err := r.service.Start(ctx, r.entrypointPath(r.cfg.InstallDir), r.cfg.ServiceWaitTimeout); err != nil {
		return fmt.Errorf("failed to restart old service after rollback: %w", err)
	}
	return nil
}
