package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
)

// startNew implements the Starting phase: start the service and wait up
// to ServiceWaitTimeout for it to report running.
func (r *Runner) startNew(ctx context.Context) error {
	if err := r.service.Start(ctx, r.entrypointPath(r.cfg.InstallDir), r.cfg.ServiceWaitTimeout); err != nil {
		return fmt.Errorf("new service failed to start: %w", err)
	}
	return nil
}

// entrypointPath resolves the agent binary's path under dir, adding the
// platform executable suffix on Windows.
func (r *Runner) entrypointPath(dir string) string {
	name := entrypointBinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}

// entrypointBinaryName is the binary the updater launches after deploy.
// Kept as a single constant so cmd/agent and cmd/updater agree on the name
// without either package importing the other.
const entrypointBinaryName = "agent"
