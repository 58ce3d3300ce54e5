// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Description
//
// This interface abstracts all interaction with the operating system's
// process management, enabling testable code that doesn't require a real
// container engine. The deployment tool only talks to Docker through its
// documented command surface, so every invocation funnels through here.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
// Long-running processes must respect context cancellation.
type Manager interface {
	// LookPath reports whether the named binary is resolvable on PATH.
	//
	// # Description
	//
	// Used for precondition checks before any mutating operation: a missing
	// docker binary aborts the run before any state is touched.
	//
	// # Inputs
	//
	//   - name: The executable name
	//
	// # Outputs
	//
	//   - string: Resolved absolute path (empty if not found)
	//   - error: Non-nil if the binary cannot be found
	LookPath(name string) (string, error)

	// RunInDir executes a command synchronously in a working directory.
	//
	// # Description
	//
	// Executes the command with the given arguments, in the given directory,
	// with the given extra environment entries appended to the parent
	// environment. Waits for completion and returns captured stdout, stderr,
	// and the child's exit code.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" for the caller's cwd)
	//   - env: Extra KEY=VALUE entries (nil for none)
	//   - name: The executable name or path
	//   - args: Command arguments (variadic, passed as discrete argv entries)
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Exit code (-1 if the process never ran)
	//   - error: Non-nil if the command fails to start, exits non-zero,
	//     or the context is cancelled
	//
	// # Examples
	//
	//	stdout, _, code, err := pm.RunInDir(ctx, root, nil, "docker", "compose", "ps")
	//
	// # Limitations
	//
	//   - Output is fully buffered in memory; not suitable for log streaming
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunStreaming executes a command with output streamed to a writer.
	//
	// # Description
	//
	// Starts the command and copies its combined stdout/stderr to w as it is
	// produced. Blocks until the child exits or the context is cancelled.
	// Used for long-running subcommands (`up` in the foreground, `logs -f`)
	// where the operator watches output live.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation (terminates the child)
	//   - dir: Working directory ("" for the caller's cwd)
	//   - env: Extra KEY=VALUE entries (nil for none)
	//   - w: Destination for combined output
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - error: Non-nil if the command fails to start or exits non-zero
	//
	// # Limitations
	//
	//   - Exit output interleaving between stdout and stderr follows the
	//     child's own flushing behavior
	RunStreaming(ctx context.Context, dir string, env []string, w io.Writer, name string, args ...string) error
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation that executes real processes on the
// system. Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a new DefaultManager.
//
// # Description
//
// Creates a Manager that executes real processes using os/exec.
// This should be used in production code.
//
// # Outputs
//
//   - *DefaultManager: Ready-to-use process manager
//
// # Examples
//
//	pm := process.NewDefaultManager()
//	_, _, _, err := pm.RunInDir(ctx, "", nil, "docker", "version")
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// LookPath reports whether the named binary is resolvable on PATH.
func (pm *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// RunInDir executes a command synchronously in a working directory.
func (pm *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// RunStreaming executes a command with output streamed to a writer.
func (pm *DefaultManager) RunStreaming(ctx context.Context, dir string, env []string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	// Operator interrupt propagates to the child via the process group;
	// a cancelled context is not a child failure worth wrapping.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return err
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
//	        if name == "docker" && args[0] == "info" {
//	            return "Server Version: 27.0", "", 0, nil
//	        }
//	        return "", "", 1, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockManager struct {
	// LookPathFunc is called when LookPath is invoked
	LookPathFunc func(name string) (string, error)

	// RunInDirFunc is called when RunInDir is invoked
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)

	// RunStreamingFunc is called when RunStreaming is invoked
	RunStreamingFunc func(ctx context.Context, dir string, env []string, w io.Writer, name string, args ...string) error

	// Calls records all method invocations for verification
	Calls []ManagerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ManagerCall records a single method invocation.
type ManagerCall struct {
	Method string
	Dir    string
	Name   string
	Args   []string
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockManager) LookPath(name string) (string, error) {
	m.record(ManagerCall{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

// RunInDir delegates to RunInDirFunc and records the call.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(ManagerCall{Method: "RunInDir", Dir: dir, Name: name, Args: args})
	if m.RunInDirFunc == nil {
		panic("MockManager.RunInDirFunc not set")
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunStreaming delegates to RunStreamingFunc and records the call.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, env []string, w io.Writer, name string, args ...string) error {
	m.record(ManagerCall{Method: "RunStreaming", Dir: dir, Name: name, Args: args})
	if m.RunStreamingFunc == nil {
		panic("MockManager.RunStreamingFunc not set")
	}
	return m.RunStreamingFunc(ctx, dir, env, w, name, args...)
}

func (m *MockManager) record(call ManagerCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []ManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
