package updater

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ServiceController abstracts OS-specific service control. A Windows
// deployment supplies a service-manager-backed implementation;
// ProcessController below is a portable default sufficient when the agent
// runs as a plain supervised process rather than a registered OS service.
type ServiceController interface {
	// Stop asks the service to exit, waiting up to timeout before the
	// caller falls back to a forced kill.
	Stop(ctx context.Context, timeout time.Duration) error
	// Start launches binaryPath as the service and waits up to timeout for
	// it to report itself running.
	Start(ctx context.Context, binaryPath string, timeout time.Duration) error
	// IsRunning reports whether the service is currently up.
	IsRunning(ctx context.Context) (bool, error)
}

// ProcessController manages the agent as a plain OS process identified by
// PID.
type ProcessController struct {
	pid     int
	process *os.Process
}

func NewProcessController(pid int) *ProcessController {
	return &ProcessController{pid: pid}
}

// Stop signals the process to exit and polls for its exit up to timeout.
func (c *ProcessController) Stop(ctx context.Context, timeout time.Duration) error {
	proc, err := os.FindProcess(c.pid)
	if err != nil {
		return fmt.Errorf("updater: failed to locate process %d: %w", c.pid, err)
	}

	if err := signalTerminate(proc); err != nil {
		return fmt.Errorf("updater: failed to signal process %d: %w", c.pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := processExists(c.pid)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := proc.Kill(); err != nil {
		return fmt.Errorf("updater: forced kill of process %d failed: %w", c.pid, err)
	}
	return nil
}

// Start launches binaryPath as a new detached process and records it as
// the process this controller now manages.
func (c *ProcessController) Start(ctx context.Context, binaryPath string, timeout time.Duration) error {
	cmd := exec.CommandContext(context.Background(), binaryPath)
	detachProcess(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("updater: failed to start %s: %w", binaryPath, err)
	}
	c.process = cmd.Process
	c.pid = cmd.Process.Pid

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := processExists(c.pid)
		if err == nil && running {
			return nil
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("updater: %s did not report running within %s", binaryPath, timeout)
}

func (c *ProcessController) IsRunning(ctx context.Context) (bool, error) {
	return processExists(c.pid)
}
