//go:build windows

package updater

import (
	"os"
	"os/exec"
	"syscall"
)

func signalTerminate(proc *os.Process) error {
	// os.Process.Signal only supports os.Kill on Windows; a graceful
	// terminate request is out of scope for this portable fallback, so
	// Stop's poll loop below handles the forced-kill path directly.
	return proc.Kill()
}

func processExists(pid int) (bool, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}

func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200}
}
