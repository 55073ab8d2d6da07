package updater

import (
	"context"
	"fmt"
)

// waitForAgentStop implements the Waiting phase: stop the running agent
// (by PID or managed service, depending on the ServiceController
// implementation) within ServiceWaitTimeout, attempting a forced kill if
// it doesn't exit in time.
func (r *Runner) waitForAgentStop(ctx context.Context) error {
	if err := r.service.Stop(ctx, r.cfg.ServiceWaitTimeout); err != nil {
		return fmt.Errorf("agent did not stop: %w", err)
	}

	running, err := r.service.IsRunning(ctx)
	if err == nil && running {
		return fmt.Errorf("agent process still running after stop+kill")
	}
	return nil
}
