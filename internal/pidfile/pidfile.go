// Copyright 2025 The Workflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pidfile enforces single-instance daemon startup through a
// process ID file held under an advisory lock. The lock dies with the
// process, so a pid file left behind by a crash never blocks a restart.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned by Acquire when another live process holds the
// pid file.
var ErrRunning = errors.New("pidfile: already held by a running process")

// Lock is an acquired pid file. Release it during shutdown.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates or takes over the pid file at path and writes the
// current process ID into it. It fails with ErrRunning when a live
// process already holds the file. A file left by a dead process is
// taken over silently.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("pidfile: empty path")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pidfile: create directory: %w", err)
	}
	if err := checkDirectory(dir); err != nil {
		return nil, err
	}

	// No O_EXCL: stale files from crashed daemons must be reusable.
	// The flock below is the actual mutual exclusion.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pidfile: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if pid, readErr := Read(path); readErr == nil {
			return nil, fmt.Errorf("%w (pid %d)", ErrRunning, pid)
		}
		return nil, ErrRunning
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: truncate %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: sync %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Path returns the pid file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the pid file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	removeErr := os.Remove(l.path)
	if removeErr != nil && os.IsNotExist(removeErr) {
		removeErr = nil
	}
	return errors.Join(unlockErr, closeErr, removeErr)
}

// Read parses the process ID recorded at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pidfile: read %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: malformed pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pidfile: invalid pid %d in %s", pid, path)
	}
	return pid, nil
}

// checkDirectory rejects directories any user could tamper with. The
// sticky bit exempts shared locations like /tmp.
func checkDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("pidfile: stat directory: %w", err)
	}
	mode := info.Mode()
	if mode.Perm()&0o002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("pidfile: directory %s is world-writable", dir)
	}
	return nil
}
