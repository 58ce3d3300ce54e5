// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Locker defines the interface for CLI instance locking.
//
// # Description
//
// Locker prevents multiple ntripdeploy instances from mutating the same
// deployment simultaneously, avoiding races like a restore overwriting
// volumes that a concurrent start is populating. Read-only operations
// (status, logs, health) do not take the lock.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// itself provides inter-process synchronization, not intra-process.
type Locker interface {
	// Acquire attempts to get an exclusive lock.
	// Returns nil if lock acquired, error otherwise.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock.
	// Returns 0 if no process holds the lock or if unable to determine.
	HolderPID() int
}

// LockConfig names where the lock and PID files live.
type LockConfig struct {
	// LockDir is the directory for lock files. Empty means the system
	// temp directory.
	LockDir string

	// LockName is the base name for lock files. Empty means "ntripdeploy".
	LockName string
}

// DefaultLockConfig scopes the lock to a deploy root, so two operators
// on different deployments on the same host never contend while two on
// the same deployment always do. An empty root falls back to the temp
// directory.
func DefaultLockConfig(deployRoot string) LockConfig {
	dir := deployRoot
	if dir == "" {
		dir = os.TempDir()
	}
	return LockConfig{
		LockDir:  dir,
		LockName: "ntripdeploy",
	}
}

// FileLock implements Locker over flock(2) on {LockDir}/{LockName}.lock,
// with the holder's PID mirrored in a sibling .pid file so a blocked
// operator can see who to wait for. The lock is advisory; if the holder
// crashes the kernel drops the flock and the stale PID file is harmless.
//
// Not safe for concurrent use from multiple goroutines. flock does not
// work reliably on NFS mounts; keep the deploy root on a local filesystem.
type FileLock struct {
	config   LockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewFileLock builds a FileLock from config. It does not acquire anything.
func NewFileLock(config LockConfig) *FileLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "ntripdeploy"
	}

	return &FileLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire takes the lock without blocking. When another instance holds
// it, the error names the holder's PID if the PID file is readable.
func (p *FileLock) Acquire() error {
	if p.held {
		return nil // Already held
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	// Try non-blocking exclusive lock
	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			holderPID := p.readHolderPID()
			if holderPID > 0 {
				return fmt.Errorf("another ntripdeploy instance is running (PID %d). "+
					"If this is stale, remove %s", holderPID, p.pidPath)
			}
			return fmt.Errorf("another ntripdeploy instance is running. "+
				"Check: lsof %s", p.lockPath)
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// PID file is debugging aid only; lock is held regardless
	_ = p.writePID()

	return nil
}

// Release drops the flock and removes the PID file. Calling it again,
// or without a prior Acquire, is a no-op.
func (p *FileLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	os.Remove(p.pidPath)

	err := syscall.Flock(int(p.lockFile.Fd()), syscall.LOCK_UN)

	// Close also releases the lock if flock failed.
	// The lock file itself is left behind for faster subsequent acquires.
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// IsHeld reports whether this instance holds the lock. Local state only,
// the flock itself is not re-checked.
func (p *FileLock) IsHeld() bool {
	return p.held
}

// HolderPID reads the holder's PID from the PID file, 0 when unknown.
// The value can be stale if the holder crashed without cleanup.
func (p *FileLock) HolderPID() int {
	return p.readHolderPID()
}

// writePID writes the current process PID to the PID file.
func (p *FileLock) writePID() error {
	content := fmt.Sprintf("%d\n", os.Getpid())
	return os.WriteFile(p.pidPath, []byte(content), 0644)
}

// readHolderPID reads the PID from the PID file.
func (p *FileLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return pid
}

// LockPath returns the path to the lock file.
func (p *FileLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the path to the PID file.
func (p *FileLock) PIDPath() string {
	return p.pidPath
}

// Compile-time interface satisfaction check
var _ Locker = (*FileLock)(nil)
