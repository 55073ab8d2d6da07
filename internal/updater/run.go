package updater

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/ignoredversions"
)

// Runner drives the updater's state machine from Waiting to a terminal
// exit code. It is the sole writer of the install directory and the
// ignored-versions store for the duration of its run; the agent is fully
// stopped before any file is touched.
type Runner struct {
	cfg     Config
	service ServiceController
	ignored *ignoredversions.Store
	logger  *zap.Logger
	phase   Phase
}

func NewRunner(cfg Config, service ServiceController, ignored *ignoredversions.Store, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, service: service, ignored: ignored, logger: logger.Named("updater"), phase: PhaseWaiting}
}

// Run executes the full state machine and returns the terminal ExitCode;
// the caller (cmd/updater) maps this directly to os.Exit.
func (r *Runner) Run(ctx context.Context) ExitCode {
	r.phase = PhaseWaiting
	if err := r.waitForAgentStop(ctx); err != nil {
		r.logger.Error("updater: agent did not stop in time", zap.Error(err))
		return ExitAgentStopTimeout
	}

	r.phase = PhaseBacking
	if err := r.backupInstall(); err != nil {
		r.logger.Error("updater: backup failed", zap.Error(err))
		return ExitBackupFailed
	}

	r.phase = PhaseDeploying
	if err := r.deployNew(); err != nil {
		r.logger.Error("updater: deploy failed", zap.Error(err))
		return r.rollAndExit(ctx, RollingDeployFailed, ExitDeployFailed)
	}

	r.phase = PhaseStarting
	if err := r.startNew(ctx); err != nil {
		r.logger.Error("updater: new service failed to start", zap.Error(err))
		return r.rollAndExit(ctx, RollingStartFailed, ExitNewServiceStartFailed)
	}

	r.phase = PhaseWatching
	if err := r.watchNewService(ctx); err != nil {
		r.logger.Warn("updater: watchdog observed instability", zap.Error(err))
		return r.rollAndExit(ctx, RollingWatchdogCrash, ExitWatchdogTriggeredRollback)
	}

	r.phase = PhaseCleanup
	r.cleanup()
	r.phase = PhaseExit
	return ExitSuccess
}

// rollAndExit enters the Rolling phase, records new_version as ignored
// regardless of rollback outcome, and returns either the caller-supplied
// failure code or RollbackFailed if the rollback itself could not
// complete.
func (r *Runner) rollAndExit(ctx context.Context, reason RollingReason, onSuccess ExitCode) ExitCode {
	r.phase = PhaseRolling

	rollbackErr := r.rollback(ctx, reason)
	if err := r.ignored.Add(r.cfg.NewVersion); err != nil {
		r.logger.Error("updater: failed to record ignored version", zap.Error(err))
	}

	r.phase = PhaseExit
	if rollbackErr != nil {
		r.logger.Error("updater: rollback failed", zap.Error(rollbackErr))
		return ExitRollbackFailed
	}
	return onSuccess
}

// cleanup deletes the backup and extracted-package staging directories.
// Only reached after a successful watchdog window.
func (r *Runner) cleanup() {
	if err := os.RemoveAll(r.backupDir()); err != nil {
		r.logger.Warn("updater: failed to clean up backup dir", zap.Error(err))
	}
	extractedDir := filepath.Join(r.cfg.DataDir, "updates", "extracted", r.cfg.NewVersion)
	if err := os.RemoveAll(extractedDir); err != nil {
		r.logger.Warn("updater: failed to clean up extracted dir", zap.Error(err))
	}
}
