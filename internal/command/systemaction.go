package command

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
)

const systemActionDefaultTimeoutSec = 30

// SystemActionHandler issues a host power-state transition (restart,
// shutdown, or logoff). It is declared non-reentrant (Reentrant() == false)
// so the pipeline never runs two system actions concurrently; issuing a
// restart and a shutdown in parallel is meaningless and potentially
// destructive.
//
// The actual OS call is the only part a real deployment needs to swap.
// This implementation shells out to the platform's own shutdown utility,
// which is present on every supported OS without additional dependencies.
type SystemActionHandler struct{}

func (SystemActionHandler) DefaultTimeout() int { return systemActionDefaultTimeoutSec }
func (SystemActionHandler) Reentrant() bool     { return false }

func (SystemActionHandler) Execute(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
	action := req.CommandText
	delaySec, _ := req.paramInt("delay_sec")
	if delaySec < 0 {
		delaySec = 0
	}
	force, _ := req.paramBool("force")

	switch action {
	case "restart":
		return runShutdownUtility(ctx, true, delaySec, force)
	case "shutdown":
		return runShutdownUtility(ctx, false, delaySec, force)
	case "logoff":
		// No interactive user session to log off when running as a service.
		return Output{
			ExitCode:     1,
			ErrorMessage: "logoff is not supported when the agent runs as a service",
			ErrorCode:    "Unsupported",
		}
	default:
		return Output{
			ExitCode:     1,
			ErrorMessage: fmt.Sprintf("unknown system action %q", action),
			ErrorCode:    "InvalidParams",
		}
	}
}

// runShutdownUtility invokes the platform shutdown command and returns
// exit 0 as soon as it starts successfully; the agent itself may be
// killed by the OS before the result is flushed, so waiting is pointless.
func runShutdownUtility(ctx context.Context, restart bool, delaySec int, force bool) Output {
	var cmd *exec.Cmd

	if runtime.GOOS == "windows" {
		args := []string{"/t", strconv.Itoa(delaySec)}
		if restart {
			args = append(args, "/r")
		} else {
			args = append(args, "/s")
		}
		if force {
			args = append(args, "/f")
		}
		cmd = exec.CommandContext(ctx, "shutdown", args...)
	} else {
		var args []string
		if restart {
			args = append(args, "-r")
		} else {
			args = append(args, "-h")
		}
		if delaySec > 0 {
			args = append(args, fmt.Sprintf("+%d", (delaySec+59)/60))
		} else {
			args = append(args, "now")
		}
		cmd = exec.CommandContext(ctx, "shutdown", args...)
	}

	if err := cmd.Start(); err != nil {
		return Output{ExitCode: 1, ErrorMessage: "failed to issue system action: " + err.Error(), ErrorCode: "ActionFailed"}
	}

	// Detach; do not wait. The command runs to completion (or the process
	// is terminated by the OS) independently of this handler.
	go cmd.Wait()

	return Output{ExitCode: 0}
}
