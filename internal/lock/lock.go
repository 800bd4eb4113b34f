// Package lock provides exclusive, advisory file locks for long-running
// steward processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned by TryAcquire when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// Lock is an acquired flock on <stateDir>/locks/<name>.lock.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file location for name under stateDir.
func Path(stateDir, name string) string {
	return filepath.Join(stateDir, "locks", name+".lock")
}

// TryAcquire takes the lock without blocking and records the current pid in
// the lock file.
func TryAcquire(stateDir, name string) (*Lock, error) {
	path := Path(stateDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, ok := Holder(stateDir, name); ok {
				return nil, fmt.Errorf("%w (pid %d)", ErrHeld, pid)
			}
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}

	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, file: file}, nil
}

// Holder reads the pid recorded in the lock file, if any.
func Holder(stateDir, name string) (int, bool) {
	data, err := os.ReadFile(Path(stateDir, name))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Release unlocks and closes the lock file. It is safe to call on nil.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		_ = file.Close()
		return fmt.Errorf("unlock %s: %w", filepath.Base(l.path), err)
	}
	return file.Close()
}
