// Copyright 2025 Tom Barlow
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

// Package lifecycle handles daemon process identity: the PID file and
// signaling a previous instance during port reclamation.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned when a live daemon holds the PID file.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrInvalidPID is returned when the PID file contains non-numeric data.
	ErrInvalidPID = errors.New("invalid PID in file")
)

// PIDFile records this process's PID on disk. Creation uses O_EXCL plus
// an exclusive flock; a stale file left by a dead process is reclaimed.
type PIDFile struct {
	path string
	lock *os.File
}

// NewPIDFile returns a PID file handle for path. Nothing is written until
// Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes the current PID. If the file exists but its owner is
// dead, the stale file is removed and acquisition retried once. A live
// owner yields ErrAlreadyRunning.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("creating pid file directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := p.create()
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return err
		}

		pid, readErr := ReadPID(p.path)
		if readErr == nil && IsRunning(pid) {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}

		// Stale or unreadable; reclaim and try again.
		if rmErr := os.Remove(p.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("removing stale pid file: %w", rmErr)
		}
	}
	return fmt.Errorf("%w: could not reclaim %s", ErrAlreadyRunning, p.path)
}

// create opens the file exclusively and writes the PID under flock.
// O_EXCL defeats symlink races; the held lock marks the file live.
func (p *PIDFile) create() error {
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("locking pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("writing pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("syncing pid file: %w", err)
	}

	p.lock = f
	return nil
}

// Release removes the file and drops the lock. Safe to call when Acquire
// never succeeded.
func (p *PIDFile) Release() error {
	if p.lock != nil {
		syscall.Flock(int(p.lock.Fd()), syscall.LOCK_UN)
		p.lock.Close()
		p.lock = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// ReadPID parses the PID stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, strings.TrimSpace(string(data)))
	}
	return pid, nil
}
