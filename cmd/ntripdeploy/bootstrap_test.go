// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopkg.in/ini.v1"
)

func TestEnsureLayoutCreatesAllDirectories(t *testing.T) {
	root := t.TempDir()
	b := NewDefaultBootstrapper(root)

	report, err := b.EnsureLayout()
	if err != nil {
		t.Fatalf("EnsureLayout failed: %v (failed: %v)", err, report.Failed)
	}
	if len(report.Created) != len(requiredLayout) {
		t.Errorf("expected %d created directories, got %d", len(requiredLayout), len(report.Created))
	}

	for _, entry := range requiredLayout {
		path := filepath.Join(root, entry.rel)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("directory %s missing: %v", entry.rel, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", entry.rel)
		}
	}
}

func TestEnsureLayoutSecretsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	root := t.TempDir()
	b := NewDefaultBootstrapper(root)

	if _, err := b.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "secrets"))
	if err != nil {
		t.Fatalf("secrets dir missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("secrets permissions = %o, want 0700", perm)
	}
}

func TestEnsureLayoutIsIdempotent(t *testing.T) {
	root := t.TempDir()
	b := NewDefaultBootstrapper(root)

	if _, err := b.EnsureLayout(); err != nil {
		t.Fatalf("first EnsureLayout failed: %v", err)
	}

	// Drop a file into an existing directory; a second run must not touch it.
	marker := filepath.Join(root, "data", "rtcm.dat")
	if err := os.WriteFile(marker, []byte("stream"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := b.EnsureLayout()
	if err != nil {
		t.Fatalf("second EnsureLayout failed: %v", err)
	}
	if len(report.Created) != 0 {
		t.Errorf("second run should create nothing, created %v", report.Created)
	}
	if len(report.Existing) != len(requiredLayout) {
		t.Errorf("expected all %d directories to be reported existing, got %d", len(requiredLayout), len(report.Existing))
	}

	if _, err := os.Stat(marker); err != nil {
		t.Errorf("existing file was disturbed: %v", err)
	}
}

func TestEnsureLayoutReportsPartialFailure(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("requires non-root unix permissions")
	}
	root := t.TempDir()

	// Make proxy/ read-only so its children fail while siblings succeed.
	proxyParent := filepath.Join(root, "proxy")
	if err := os.MkdirAll(proxyParent, 0555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(proxyParent, 0755)

	b := NewDefaultBootstrapper(root)
	report, err := b.EnsureLayout()
	if err == nil {
		t.Fatal("expected error when some directories cannot be created")
	}
	if len(report.Failed) == 0 {
		t.Error("expected failed entries in the report")
	}
	if len(report.Created) == 0 {
		t.Error("creation should be best-effort; siblings of the failed dir must still be created")
	}
}

func TestSeedCasterConfigWritesDefaults(t *testing.T) {
	root := t.TempDir()
	b := NewDefaultBootstrapper(root)

	written, err := b.SeedCasterConfig()
	if err != nil {
		t.Fatalf("SeedCasterConfig failed: %v", err)
	}
	if !written {
		t.Error("expected a new config.ini to be written")
	}

	cfg, err := ini.Load(filepath.Join(root, "config", "config.ini"))
	if err != nil {
		t.Fatalf("seeded config.ini does not parse: %v", err)
	}
	if got := cfg.Section("caster").Key("port").String(); got != "2101" {
		t.Errorf("caster port = %q, want 2101", got)
	}
	if got := cfg.Section("web").Key("port").String(); got != "5757" {
		t.Errorf("web port = %q, want 5757", got)
	}
	if got := cfg.Section("caster").Key("name").String(); got != "2RTK Ntrip Caster" {
		t.Errorf("caster name = %q", got)
	}
}

func TestSeedCasterConfigNeverOverwrites(t *testing.T) {
	root := t.TempDir()
	b := NewDefaultBootstrapper(root)

	path := filepath.Join(root, "config", "config.ini")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	custom := "[caster]\nport = 9999\n"
	if err := os.WriteFile(path, []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	written, err := b.SeedCasterConfig()
	if err != nil {
		t.Fatalf("SeedCasterConfig failed: %v", err)
	}
	if written {
		t.Error("existing config.ini must not be overwritten")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Errorf("operator config was modified:\n%s", data)
	}
}
