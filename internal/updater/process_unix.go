//go:build !windows

package updater

import (
	"os"
	"os/exec"
	"syscall"
)

func signalTerminate(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}

func processExists(pid int) (bool, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if err == os.ErrProcessDone {
		return false, nil
	}
	return false, nil
}

func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
