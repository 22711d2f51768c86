// Package pidfile guards against two server instances sharing the same
// media directories: the second instance refuses to start while the
// first's PID file points at a live process.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is an acquired single-instance lock.
type PIDFile struct {
	path string
	pid  int
}

// Acquire writes the current PID at path. It fails when the file already
// names a running process; a stale file left by a dead process is
// replaced.
func Acquire(path string) (*PIDFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("pidfile: creating directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if existingPID, err := strconv.Atoi(pidStr); err == nil {
			if processAlive(existingPID) {
				return nil, fmt.Errorf("pidfile: another instance is already running (PID %d)", existingPID)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("pidfile: removing stale file: %w", err)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return nil, fmt.Errorf("pidfile: writing: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Release deletes the PID file if it still belongs to this process.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	if data, err := os.ReadFile(p.path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid == p.pid {
			return os.Remove(p.path)
		}
	}
	return nil
}

// DefaultPath returns the standard PID file location for the server.
func DefaultPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "echoscribe", "echoscribe.pid")
	}
	return filepath.Join(os.TempDir(), "echoscribe.pid")
}

// processAlive checks whether pid names a running process via signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}
