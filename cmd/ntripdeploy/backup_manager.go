// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
)

// -----------------------------------------------------------------------------
// Error Definitions
// -----------------------------------------------------------------------------

var (
	// ErrServicesRunning is returned when a restore is attempted while the
	// stack is up. Restoring volumes under a live caster corrupts both.
	ErrServicesRunning = errors.New("services are running, stop them before restoring")

	// ErrBackupNotFound is returned when the named backup does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)

// helperImage runs the tar snapshot/restore containers.
const helperImage = "alpine:3.20"

// backupTimeFormat names backup directories, sortable lexicographically.
const backupTimeFormat = "20060102-150405"

// -----------------------------------------------------------------------------
// BackupManager Interface
// -----------------------------------------------------------------------------

// BackupManager archives and restores the caster's persistent state.
//
// # Description
//
// A backup is a timestamped directory containing a copy of the host config
// tree plus one gzipped tarball per named volume, snapshotted through
// short-lived helper containers. A manifest records what the backup holds
// so restore does not guess.
//
// # Thread Safety
//
// Implementations are used from a single goroutine under the CLI lock.
type BackupManager interface {
	// Backup creates a new archive of config and volumes.
	//
	// # Description
	//
	// Best-effort across members: a volume that fails to snapshot is
	// recorded in the report and the remaining members still run. The
	// backup directory is kept even on partial failure so the operator
	// can inspect what was captured.
	//
	// # Outputs
	//
	//   - *BackupReport: Per-member outcome and archive location
	//   - error: Non-nil if the archive directory cannot be created at all
	Backup(ctx context.Context) (*BackupReport, error)

	// Restore unpacks a named backup over the current state.
	//
	// # Description
	//
	// Refuses to run while any project container is running. Members are
	// restored in manifest order; the first failure aborts, leaving
	// already-restored members in place, and the report says which.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - name: Backup directory name (from List)
	Restore(ctx context.Context, name string) (*BackupReport, error)

	// List returns available backups, newest first.
	List() ([]BackupInfo, error)
}

// BackupReport describes the outcome of one backup or restore run.
type BackupReport struct {
	// ID uniquely identifies this run.
	ID string

	// Path is the backup directory.
	Path string

	// Members holds per-member outcomes in execution order.
	Members []MemberResult

	// Success is true when every member succeeded.
	Success bool
}

// MemberResult is the outcome for a single backup member.
type MemberResult struct {
	// Name is the member identifier (volume name or "config").
	Name string

	// Kind is "volume" or "config".
	Kind string

	// Err holds the failure message, empty on success.
	Err string
}

// BackupInfo summarizes one stored backup.
type BackupInfo struct {
	// Name is the backup directory name, e.g. "20250823-153000".
	Name string

	// CreatedAt is the backup timestamp from the manifest.
	CreatedAt time.Time

	// Environment the backup was taken from.
	Environment string

	// Volumes captured in the backup.
	Volumes []string
}

// backupManifest is the on-disk manifest.yaml schema.
type backupManifest struct {
	ID          string    `yaml:"id"`
	CreatedAt   time.Time `yaml:"created_at"`
	Environment string    `yaml:"environment"`
	ProjectName string    `yaml:"project_name"`
	Volumes     []string  `yaml:"volumes"`
	ConfigDir   bool      `yaml:"config_dir"`
}

// -----------------------------------------------------------------------------
// DefaultBackupManager Implementation
// -----------------------------------------------------------------------------

// DefaultBackupManager implements BackupManager with engine helper containers.
type DefaultBackupManager struct {
	executor   compose.Executor
	deployCtx  DeploymentContext
	backupRoot string
	volumes    []string

	// now is injectable for deterministic directory names in tests.
	now func() time.Time
}

// NewDefaultBackupManager creates a backup manager for one deployment.
//
// # Inputs
//
//   - executor: Engine executor scoped to the deployment
//   - deployCtx: Resolved deployment context
//   - backupRoot: Backup directory (absolute)
//   - volumes: Named volumes to snapshot, unprefixed (e.g. "ntrip-data")
func NewDefaultBackupManager(executor compose.Executor, deployCtx DeploymentContext, backupRoot string, volumes []string) *DefaultBackupManager {
	return &DefaultBackupManager{
		executor:   executor,
		deployCtx:  deployCtx,
		backupRoot: backupRoot,
		volumes:    volumes,
		now:        time.Now,
	}
}

// Backup creates a new archive of config and volumes.
func (m *DefaultBackupManager) Backup(ctx context.Context) (*BackupReport, error) {
	name := m.now().UTC().Format(backupTimeFormat)
	dir := filepath.Join(m.backupRoot, name)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	report := &BackupReport{
		ID:      uuid.NewString(),
		Path:    dir,
		Success: true,
	}

	// Config tree first; it is the cheapest member and the most often
	// needed one.
	configErr := copyDir(filepath.Join(m.deployRoot(), "config"), filepath.Join(dir, "config"))
	report.Members = append(report.Members, memberResult("config", "config", configErr))
	if configErr != nil {
		report.Success = false
	}

	for _, vol := range m.volumes {
		err := m.snapshotVolume(ctx, vol, dir)
		report.Members = append(report.Members, memberResult(vol, "volume", err))
		if err != nil {
			report.Success = false
		}
	}

	manifest := backupManifest{
		ID:          report.ID,
		CreatedAt:   m.now().UTC(),
		Environment: string(m.deployCtx.Environment),
		ProjectName: m.deployCtx.ScopedName,
		Volumes:     m.volumes,
		ConfigDir:   configErr == nil,
	}
	if err := writeManifest(filepath.Join(dir, "manifest.yaml"), manifest); err != nil {
		report.Success = false
		report.Members = append(report.Members, memberResult("manifest", "manifest", err))
	}

	return report, nil
}

// Restore unpacks a named backup over the current state.
func (m *DefaultBackupManager) Restore(ctx context.Context, name string) (*BackupReport, error) {
	dir := filepath.Join(m.backupRoot, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}

	states, err := m.executor.ContainerStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check running services: %w", err)
	}
	for _, s := range states {
		if s.Running() {
			return nil, fmt.Errorf("%w (%s is up)", ErrServicesRunning, s.Service)
		}
	}

	manifest, err := readManifest(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}

	report := &BackupReport{
		ID:      uuid.NewString(),
		Path:    dir,
		Success: true,
	}

	if manifest.ConfigDir {
		err := copyDir(filepath.Join(dir, "config"), filepath.Join(m.deployRoot(), "config"))
		report.Members = append(report.Members, memberResult("config", "config", err))
		if err != nil {
			report.Success = false
			return report, fmt.Errorf("restore aborted at config: %w", err)
		}
	}

	for _, vol := range manifest.Volumes {
		err := m.restoreVolume(ctx, vol, dir)
		report.Members = append(report.Members, memberResult(vol, "volume", err))
		if err != nil {
			// Completed members stay restored; the report shows how far
			// the run got.
			report.Success = false
			return report, fmt.Errorf("restore aborted at volume %s: %w", vol, err)
		}
	}

	return report, nil
}

// List returns available backups, newest first.
func (m *DefaultBackupManager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var infos []BackupInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info := BackupInfo{Name: entry.Name()}

		manifest, err := readManifest(filepath.Join(m.backupRoot, entry.Name(), "manifest.yaml"))
		if err == nil {
			info.CreatedAt = manifest.CreatedAt
			info.Environment = manifest.Environment
			info.Volumes = manifest.Volumes
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name > infos[j].Name
	})
	return infos, nil
}

// -----------------------------------------------------------------------------
// Private Helpers
// -----------------------------------------------------------------------------

// snapshotVolume tars one named volume into the backup directory through a
// helper container. The volume is mounted read-only.
func (m *DefaultBackupManager) snapshotVolume(ctx context.Context, volume, backupDir string) error {
	scoped := m.scopedVolume(volume)
	_, err := m.executor.Engine(ctx, 10*time.Minute,
		"run", "--rm",
		"-v", scoped+":/source:ro",
		"-v", backupDir+":/backup",
		helperImage,
		"tar", "czf", "/backup/"+volume+".tar.gz", "-C", "/source", ".")
	return err
}

// restoreVolume unpacks one volume tarball through a helper container.
// The target volume is wiped first so deleted files do not survive.
func (m *DefaultBackupManager) restoreVolume(ctx context.Context, volume, backupDir string) error {
	archive := filepath.Join(backupDir, volume+".tar.gz")
	if _, err := os.Stat(archive); err != nil {
		return fmt.Errorf("archive %s missing: %w", volume+".tar.gz", err)
	}

	scoped := m.scopedVolume(volume)
	_, err := m.executor.Engine(ctx, 10*time.Minute,
		"run", "--rm",
		"-v", scoped+":/target",
		"-v", backupDir+":/backup:ro",
		helperImage,
		"sh", "-c", "rm -rf /target/* && tar xzf /backup/"+volume+".tar.gz -C /target")
	return err
}

// scopedVolume prefixes a volume name with the scoped project name, the
// way compose names project volumes.
func (m *DefaultBackupManager) scopedVolume(volume string) string {
	return m.deployCtx.ScopedName + "_" + volume
}

func memberResult(name, kind string, err error) MemberResult {
	r := MemberResult{Name: name, Kind: kind}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

func writeManifest(path string, m backupManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readManifest(path string) (backupManifest, error) {
	var m backupManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(data, &m)
	return m, err
}

// deployRoot derives the deployment root from the base compose layer,
// falling back to the backup directory's parent.
func (m *DefaultBackupManager) deployRoot() string {
	if files := m.executor.ComposeFiles(); len(files) > 0 {
		return filepath.Dir(files[0])
	}
	return filepath.Dir(m.backupRoot)
}

// copyDir recursively copies a directory tree, preserving file modes.
func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Compile-time interface compliance check.
var _ BackupManager = (*DefaultBackupManager)(nil)
