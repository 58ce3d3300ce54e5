// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"os"
	"testing"
)

func TestFileLockAcquireRelease(t *testing.T) {
	lock := NewFileLock(DefaultLockConfig(t.TempDir()))

	if lock.IsHeld() {
		t.Error("new lock should not be held")
	}

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !lock.IsHeld() {
		t.Error("lock should be held after Acquire")
	}
	if got := lock.HolderPID(); got != os.Getpid() {
		t.Errorf("expected holder PID %d, got %d", os.Getpid(), got)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lock.IsHeld() {
		t.Error("lock should not be held after Release")
	}
}

func TestFileLockAcquireIsIdempotent(t *testing.T) {
	lock := NewFileLock(DefaultLockConfig(t.TempDir()))

	if err := lock.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	if err := lock.Acquire(); err != nil {
		t.Errorf("repeated Acquire on held lock should be a no-op, got: %v", err)
	}
}

func TestFileLockExcludesSecondInstance(t *testing.T) {
	dir := t.TempDir()

	first := NewFileLock(DefaultLockConfig(dir))
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second := NewFileLock(DefaultLockConfig(dir))
	if err := second.Acquire(); err == nil {
		second.Release()
		t.Fatal("second Acquire should fail while first lock is held")
	}

	// After release the lock becomes available again.
	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	second.Release()
}

func TestFileLockReleaseWithoutAcquire(t *testing.T) {
	lock := NewFileLock(DefaultLockConfig(t.TempDir()))

	if err := lock.Release(); err != nil {
		t.Errorf("Release on never-acquired lock should be nil, got: %v", err)
	}
}

func TestDefaultLockConfigFallsBackToTempDir(t *testing.T) {
	cfg := DefaultLockConfig("")
	if cfg.LockDir != os.TempDir() {
		t.Errorf("expected temp dir fallback, got %q", cfg.LockDir)
	}
	if cfg.LockName != "ntripdeploy" {
		t.Errorf("expected default lock name, got %q", cfg.LockName)
	}
}
