// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compose drives the external container-orchestration engine
// (`docker compose`) through its documented command surface. The engine is
// treated as an opaque executor: this package assembles the layered `-f`
// flags, per-profile `--profile` flags, the project scope, and the requested
// subcommand into a discrete argument list and runs it. It never touches the
// engine's own state files.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrEngineNotFound is returned when the docker binary is not available.
	ErrEngineNotFound = errors.New("docker not found")

	// ErrEngineUnavailable is returned when the docker daemon does not respond.
	ErrEngineUnavailable = errors.New("docker daemon not responding")

	// ErrInvalidConfig is returned when the executor configuration is invalid.
	ErrInvalidConfig = errors.New("invalid executor configuration")

	// ErrInvalidEnvVar is returned when an environment variable key is invalid.
	// This prevents config injection through malformed env var names.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// envVarKeyRegex validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
var envVarKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor runs orchestration-engine invocations for one resolved deployment.
//
// # Description
//
// An Executor is constructed from the output of environment/profile
// resolution (ordered config layers, profile names, project-scoped name) and
// turns lifecycle subcommands into concrete `docker compose` invocations.
// Short subcommands (`ps`, `pull`, `build`) buffer output; long-running ones
// (`up` in the foreground, `logs -f`) stream it live.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Mutating operations are
// serialized internally; cross-process serialization is the engine's own
// concern plus the CLI file lock.
type Executor interface {
	// Run executes a compose subcommand and buffers its output.
	//
	// # Description
	//
	// Builds the invocation as: engine binary, `compose`, project scope,
	// ordered `-f <layer>` flags, `--profile <name>` per profile, the
	// subcommand token, then extraArgs verbatim. Caller-supplied argument
	// order is preserved exactly; nothing is reordered or deduplicated.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - subcommand: Compose subcommand token (e.g. "up", "down", "ps")
	//   - extraArgs: Additional arguments appended verbatim
	//
	// # Outputs
	//
	//   - *Result: Captured stdout/stderr, exit code, duration, command line
	//   - error: Non-nil if the child fails to start or exits non-zero
	//
	// # Limitations
	//
	//   - No retry; retry policy belongs to the caller because not every
	//     subcommand is safe to re-run after a partial failure
	Run(ctx context.Context, subcommand string, extraArgs ...string) (*Result, error)

	// RunWithEnv is Run with extra environment variables injected into the
	// engine invocation. Keys are validated against POSIX naming rules.
	RunWithEnv(ctx context.Context, env map[string]string, subcommand string, extraArgs ...string) (*Result, error)

	// Stream executes a compose subcommand with output streamed live.
	//
	// # Description
	//
	// Same argument assembly as Run but child output is copied to w as it is
	// produced. Blocks until the child exits or ctx is cancelled. Used for
	// `logs -f` and foreground `up`.
	Stream(ctx context.Context, w io.Writer, subcommand string, extraArgs ...string) error

	// Engine executes a direct engine command (not through compose).
	//
	// # Description
	//
	// Used only where compose has no surface: volume snapshot helper
	// containers, `system prune`, and container state queries.
	Engine(ctx context.Context, timeout time.Duration, args ...string) (*Result, error)

	// ContainerStates returns the state of every container in this project.
	//
	// # Description
	//
	// Queries `docker ps -a` filtered to the project-scoped name and parses
	// the JSON-lines output. Includes stopped and exited containers.
	ContainerStates(ctx context.Context) ([]ContainerState, error)

	// CheckPreconditions verifies the engine binary exists and the daemon
	// responds. Fatal failures here abort before any mutation.
	CheckPreconditions(ctx context.Context) error

	// ComposeFiles returns the ordered absolute config layer paths.
	ComposeFiles() []string
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config provides the resolved deployment parameters for an Executor.
type Config struct {
	// DeployRoot is the directory containing the compose layer files.
	// All layer paths are resolved relative to this directory.
	DeployRoot string

	// ProjectName is the project-scoped name passed as `-p`.
	// It namespaces containers, volumes, and networks so two environments
	// never collide on one host. Required.
	ProjectName string

	// Layers are the ordered compose config files, base first.
	// Must be non-empty; the base layer is never replaced by an overlay.
	Layers []string

	// Profiles are the profile names passed as `--profile` flags, in order.
	// Names are passed through unvalidated; the engine owns validation.
	Profiles []string

	// EngineBinary is the orchestration engine executable.
	// Default: "docker"
	EngineBinary string

	// DefaultTimeout bounds buffered operations.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// Result contains the outcome of one engine invocation.
type Result struct {
	// Success indicates the command exited zero.
	Success bool

	// ExitCode is the child's exit code (-1 if it never ran).
	ExitCode int

	// Stdout contains captured standard output.
	Stdout string

	// Stderr contains captured standard error.
	Stderr string

	// Duration is how long the invocation took.
	Duration time.Duration

	// Command is the full command line, for diagnostics.
	Command string
}

// ContainerState describes one project container as reported by the engine.
type ContainerState struct {
	// Name is the container name (project-scoped).
	Name string

	// Service is the compose service name extracted from the container name.
	Service string

	// State is the engine state string (running, exited, created, ...).
	State string

	// Status is the human status line ("Up 2 hours (healthy)").
	Status string

	// Image is the container image reference.
	Image string
}

// Running reports whether the container is in the running state.
func (c ContainerState) Running() bool {
	return c.State == "running"
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor on top of process.Manager.
type DefaultExecutor struct {
	config Config
	proc   process.Manager
	mu     sync.Mutex
}

// NewDefaultExecutor creates an Executor for one resolved deployment.
//
// # Description
//
// Validates the configuration, applies defaults, and returns an executor
// bound to the given process manager. The executor itself performs no I/O
// until an operation is invoked.
//
// # Inputs
//
//   - cfg: Resolved deployment parameters (DeployRoot, ProjectName, Layers required)
//   - proc: Process manager for command execution
//
// # Outputs
//
//   - *DefaultExecutor: Configured executor
//   - error: ErrInvalidConfig if required fields are missing
//
// # Example
//
//	executor, err := compose.NewDefaultExecutor(compose.Config{
//	    DeployRoot:  "/srv/ntripcaster",
//	    ProjectName: "ntripcaster-production",
//	    Layers:      []string{"docker-compose.yml", "docker-compose.prod.yml"},
//	    Profiles:    []string{"nginx", "monitoring"},
//	}, process.NewDefaultManager())
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if cfg.DeployRoot == "" {
		return nil, fmt.Errorf("%w: DeployRoot is required", ErrInvalidConfig)
	}
	if cfg.ProjectName == "" {
		return nil, fmt.Errorf("%w: ProjectName is required", ErrInvalidConfig)
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("%w: at least the base config layer is required", ErrInvalidConfig)
	}
	if cfg.EngineBinary == "" {
		cfg.EngineBinary = "docker"
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}

	return &DefaultExecutor{
		config: cfg,
		proc:   proc,
	}, nil
}

// Run executes a compose subcommand and buffers its output.
func (e *DefaultExecutor) Run(ctx context.Context, subcommand string, extraArgs ...string) (*Result, error) {
	return e.RunWithEnv(ctx, nil, subcommand, extraArgs...)
}

// RunWithEnv executes a compose subcommand with injected environment.
func (e *DefaultExecutor) RunWithEnv(ctx context.Context, env map[string]string, subcommand string, extraArgs ...string) (*Result, error) {
	if err := validateEnvVars(env); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.buildComposeArgs(subcommand, extraArgs)

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	start := time.Now()
	cmdStr := e.config.EngineBinary + " " + strings.Join(args, " ")

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.DeployRoot, flattenEnv(env), e.config.EngineBinary, args...)

	result := &Result{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("compose %s failed: %w", subcommand, err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("compose %s exited with code %d: %s", subcommand, exitCode, strings.TrimSpace(stderr))
	}
	return result, nil
}

// Stream executes a compose subcommand with output streamed live.
func (e *DefaultExecutor) Stream(ctx context.Context, w io.Writer, subcommand string, extraArgs ...string) error {
	args := e.buildComposeArgs(subcommand, extraArgs)
	return e.proc.RunStreaming(ctx, e.config.DeployRoot, nil, w, e.config.EngineBinary, args...)
}

// Engine executes a direct engine command (not through compose).
func (e *DefaultExecutor) Engine(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmdStr := e.config.EngineBinary + " " + strings.Join(args, " ")

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.DeployRoot, nil, e.config.EngineBinary, args...)

	result := &Result{
		Success:  exitCode == 0 && err == nil,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
		Command:  cmdStr,
	}

	if err != nil {
		return result, fmt.Errorf("%s failed: %w", cmdStr, err)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("%s exited with code %d: %s", cmdStr, exitCode, strings.TrimSpace(stderr))
	}
	return result, nil
}

// ContainerStates returns the state of every container in this project.
func (e *DefaultExecutor) ContainerStates(ctx context.Context) ([]ContainerState, error) {
	result, err := e.Engine(ctx, 30*time.Second,
		"ps", "-a",
		"--filter", "name="+e.config.ProjectName,
		"--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to query container states: %w", err)
	}

	return e.parseContainerStates(result.Stdout)
}

// CheckPreconditions verifies the engine binary exists and the daemon responds.
//
// # Description
//
// Fatal precondition failures (missing binary, unresponsive daemon, missing
// base layer file) must abort before any mutation; callers invoke this ahead
// of every mutating operation.
func (e *DefaultExecutor) CheckPreconditions(ctx context.Context) error {
	if _, err := e.proc.LookPath(e.config.EngineBinary); err != nil {
		return fmt.Errorf("%w: install docker or put it on PATH", ErrEngineNotFound)
	}

	if _, err := e.Engine(ctx, 15*time.Second, "info"); err != nil {
		return fmt.Errorf("%w: is the daemon running?", ErrEngineUnavailable)
	}

	return nil
}

// ComposeFiles returns the ordered absolute config layer paths.
func (e *DefaultExecutor) ComposeFiles() []string {
	files := make([]string, 0, len(e.config.Layers))
	for _, layer := range e.config.Layers {
		if filepath.IsAbs(layer) {
			files = append(files, layer)
			continue
		}
		files = append(files, filepath.Join(e.config.DeployRoot, layer))
	}
	return files
}

// =============================================================================
// Private Helpers
// =============================================================================

// buildComposeArgs assembles the full compose argument list.
//
// Order is fixed: project scope, `-f` per layer (base first), `--profile`
// per profile, subcommand, then extraArgs verbatim.
func (e *DefaultExecutor) buildComposeArgs(subcommand string, extraArgs []string) []string {
	args := []string{"compose", "-p", e.config.ProjectName}

	for _, file := range e.ComposeFiles() {
		args = append(args, "-f", file)
	}
	for _, profile := range e.config.Profiles {
		args = append(args, "--profile", profile)
	}

	args = append(args, subcommand)
	args = append(args, extraArgs...)
	return args
}

// parseContainerStates parses `docker ps --format json` output.
//
// Docker emits one JSON object per line (not a JSON array).
func (e *DefaultExecutor) parseContainerStates(output string) ([]ContainerState, error) {
	var states []ContainerState

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry struct {
			Names  string `json:"Names"`
			State  string `json:"State"`
			Status string `json:"Status"`
			Image  string `json:"Image"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse container state line %q: %w", line, err)
		}

		states = append(states, ContainerState{
			Name:    entry.Names,
			Service: e.extractServiceName(entry.Names),
			State:   entry.State,
			Status:  entry.Status,
			Image:   entry.Image,
		})
	}

	return states, nil
}

// extractServiceName extracts the compose service name from a container name.
//
// Container names follow the pattern <project>-<service>-<N>.
func (e *DefaultExecutor) extractServiceName(containerName string) string {
	name := strings.TrimPrefix(containerName, e.config.ProjectName)
	name = strings.TrimPrefix(name, "-")

	parts := strings.Split(name, "-")
	if len(parts) > 1 {
		last := parts[len(parts)-1]
		if _, err := fmt.Sscanf(last, "%d", new(int)); err == nil {
			parts = parts[:len(parts)-1]
		}
	}
	return strings.Join(parts, "-")
}

// validateEnvVars rejects environment keys that could smuggle engine flags
// or shell metacharacters into the invocation.
func validateEnvVars(env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !envVarKeyRegex.MatchString(k) {
			return fmt.Errorf("%w: key %q must match [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVar, k)
		}
	}
	return nil
}

// flattenEnv converts an env map to KEY=VALUE entries in sorted key order,
// keeping invocations deterministic for identical inputs.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, k+"="+env[k])
	}
	return entries
}

// Compile-time interface compliance check.
var _ Executor = (*DefaultExecutor)(nil)
