// Package instanceguard provides the process-wide single-instance guard.
// A deployment may supply an OS-scoped mutex (Windows named mutex, a
// POSIX named semaphore); FileLockGuard is the portable file-lock
// fallback; the same interface-plus-fallback split used for
// internal/identity.SecretProtector.
package instanceguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAlreadyRunning is returned by Acquire when another instance holds the
// guard.
var ErrAlreadyRunning = errors.New("instanceguard: another instance is already running")

// Guard is the single-instance collaborator interface.
type Guard interface {
	Acquire() error
	Release() error
}

// FileLockGuard is a portable fallback using exclusive file creation
// (O_CREATE|O_EXCL) as the mutex primitive; the same atomic-file
// discipline used elsewhere in this repository, applied to mutual
// exclusion instead of persistence.
type FileLockGuard struct {
	path string
	file *os.File
}

func NewFileLockGuard(dataDir string) *FileLockGuard {
	return &FileLockGuard{path: filepath.Join(dataDir, "agent.lock")}
}

// Acquire creates the lock file exclusively. If it already exists, this is
// treated as another live instance holding the guard; there is no
// stale-lock recovery; an operator or the install tooling removes the
// file when an instance genuinely crashed.
func (g *FileLockGuard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0750); err != nil {
		return fmt.Errorf("instanceguard: failed to create data dir: %w", err)
	}

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("instanceguard: failed to acquire lock: %w", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	g.file = f
	return nil
}

// Release closes and removes the lock file. Idempotent.
func (g *FileLockGuard) Release() error {
	if g.file == nil {
		return nil
	}
	g.file.Close()
	g.file = nil
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("instanceguard: failed to release lock: %w", err)
	}
	return nil
}
