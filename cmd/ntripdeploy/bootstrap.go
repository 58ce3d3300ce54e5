// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// -----------------------------------------------------------------------------
// Bootstrapper Interface
// -----------------------------------------------------------------------------

// Bootstrapper prepares the on-disk layout required by the caster stack.
//
// # Description
//
// The compose files bind-mount host directories for data, logs, config, and
// monitoring assets. Bootstrapper creates them ahead of any engine
// invocation so a fresh host can go from clone to running stack with one
// command.
//
// # Thread Safety
//
// Implementations are used from a single goroutine (the CLI main path).
type Bootstrapper interface {
	// EnsureLayout creates all required directories under the deploy root.
	//
	// # Description
	//
	// Idempotent: existing directories are left untouched with their
	// current permissions and contents. Creation is best-effort across the
	// set; one failed directory does not stop the rest, and all failures
	// are reported together.
	//
	// # Outputs
	//
	//   - *LayoutReport: Per-directory outcome
	//   - error: Non-nil if any directory could not be created
	EnsureLayout() (*LayoutReport, error)

	// SeedCasterConfig writes the default caster config.ini if absent.
	//
	// # Description
	//
	// Never overwrites: an existing config.ini is the operator's and is
	// left exactly as found.
	//
	// # Outputs
	//
	//   - bool: True if a new file was written
	//   - error: Non-nil on write failure
	SeedCasterConfig() (bool, error)
}

// LayoutReport describes the outcome of one EnsureLayout run.
type LayoutReport struct {
	// Created lists directories created by this run.
	Created []string

	// Existing lists directories that were already present.
	Existing []string

	// Failed maps directory paths to their creation errors.
	Failed map[string]error
}

// layoutEntry pairs a relative directory with its creation mode.
type layoutEntry struct {
	rel  string
	mode os.FileMode
}

// requiredLayout is the directory tree the compose files bind-mount.
// secrets/ is operator-only.
var requiredLayout = []layoutEntry{
	{"data", 0755},
	{"logs", 0755},
	{"config", 0755},
	{"secrets", 0700},
	{"proxy/config", 0755},
	{"proxy/logs", 0755},
	{"monitoring/prometheus", 0755},
	{"monitoring/dashboards", 0755},
	{"backup", 0755},
}

// -----------------------------------------------------------------------------
// DefaultBootstrapper Implementation
// -----------------------------------------------------------------------------

// DefaultBootstrapper implements Bootstrapper against the real filesystem.
type DefaultBootstrapper struct {
	// deployRoot is the deployment root directory.
	deployRoot string
}

// NewDefaultBootstrapper creates a bootstrapper for the given deploy root.
func NewDefaultBootstrapper(deployRoot string) *DefaultBootstrapper {
	return &DefaultBootstrapper{deployRoot: deployRoot}
}

// EnsureLayout creates all required directories under the deploy root.
func (b *DefaultBootstrapper) EnsureLayout() (*LayoutReport, error) {
	report := &LayoutReport{Failed: make(map[string]error)}

	for _, entry := range requiredLayout {
		path := filepath.Join(b.deployRoot, entry.rel)

		if info, err := os.Stat(path); err == nil {
			if !info.IsDir() {
				report.Failed[path] = fmt.Errorf("exists but is not a directory")
				continue
			}
			report.Existing = append(report.Existing, path)
			continue
		}

		if err := os.MkdirAll(path, entry.mode); err != nil {
			report.Failed[path] = err
			continue
		}
		// MkdirAll applies umask; secrets must end up operator-only.
		if entry.mode == 0700 {
			if err := os.Chmod(path, 0700); err != nil {
				report.Failed[path] = err
				continue
			}
		}
		report.Created = append(report.Created, path)
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("failed to create %d of %d directories", len(report.Failed), len(requiredLayout))
	}
	return report, nil
}

// SeedCasterConfig writes the default caster config.ini if absent.
func (b *DefaultBootstrapper) SeedCasterConfig() (bool, error) {
	path := filepath.Join(b.deployRoot, "config", "config.ini")

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := ini.Empty()

	caster := cfg.Section("caster")
	caster.Key("name").SetValue("2RTK Ntrip Caster")
	caster.Key("operator").SetValue("2rtk")
	caster.Key("contact").SetValue("i@jia.by")
	caster.Key("port").SetValue("2101")

	web := cfg.Section("web")
	web.Key("port").SetValue("5757")
	web.Key("health_path").SetValue("/health")

	logging := cfg.Section("logging")
	logging.Key("level").SetValue("INFO")
	logging.Key("dir").SetValue("/app/logs")

	if err := cfg.SaveTo(path); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// Compile-time interface compliance check.
var _ Bootstrapper = (*DefaultBootstrapper)(nil)
