//go:build windows

package update

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the updater in a new process group so it survives
// the agent's exit and isn't torn down by console signal propagation.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windowsCreateNewProcessGroup}
}

const windowsCreateNewProcessGroup = 0x00000200
