//go:build !windows

package update

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the updater in its own session so it survives the
// agent process exiting; the agent shuts down right after spawning it.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
