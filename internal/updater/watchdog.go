package updater

import (
	"context"
	"fmt"
	"time"
)

// watchNewService implements the Watching phase: for WatchdogPeriod, poll
// the service at a fixed interval; if it is ever found not running, the
// caller must trigger rollback.
func (r *Runner) watchNewService(ctx context.Context) error {
	interval := r.cfg.WatchdogPollInterval
	if interval <= 0 {
		interval = DefaultWatchdogPollInterval
	}

	deadline := time.Now().Add(r.cfg.WatchdogPeriod)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ticker.C:
			running, err := r.service.IsRunning(ctx)
			if err != nil {
				return fmt.Errorf("failed to poll service status: %w", err)
			}
			if !running {
				return fmt.Errorf("service is not running")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
