// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"io"
	"sync"
	"time"
)

// MockExecutor is a test double for Executor.
//
// Configure the mock by setting function fields before use. Methods with a
// nil function field return benign defaults, so tests only stub what they
// assert on.
//
// # Examples
//
//	mock := &compose.MockExecutor{
//	    RunFunc: func(ctx context.Context, subcommand string, extraArgs ...string) (*compose.Result, error) {
//	        return &compose.Result{Success: true, ExitCode: 0}, nil
//	    },
//	}
type MockExecutor struct {
	// RunFunc is called when Run or RunWithEnv is invoked
	RunFunc func(ctx context.Context, subcommand string, extraArgs ...string) (*Result, error)

	// StreamFunc is called when Stream is invoked
	StreamFunc func(ctx context.Context, w io.Writer, subcommand string, extraArgs ...string) error

	// EngineFunc is called when Engine is invoked
	EngineFunc func(ctx context.Context, timeout time.Duration, args ...string) (*Result, error)

	// ContainerStatesFunc is called when ContainerStates is invoked
	ContainerStatesFunc func(ctx context.Context) ([]ContainerState, error)

	// CheckPreconditionsFunc is called when CheckPreconditions is invoked
	CheckPreconditionsFunc func(ctx context.Context) error

	// ComposeFilesFunc is called when ComposeFiles is invoked
	ComposeFilesFunc func() []string

	// Calls records all method invocations for verification
	Calls []ExecutorCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ExecutorCall records a single method invocation.
type ExecutorCall struct {
	Method     string
	Subcommand string
	Args       []string
}

// Run delegates to RunFunc and records the call.
func (m *MockExecutor) Run(ctx context.Context, subcommand string, extraArgs ...string) (*Result, error) {
	m.record(ExecutorCall{Method: "Run", Subcommand: subcommand, Args: extraArgs})
	if m.RunFunc == nil {
		return &Result{Success: true, ExitCode: 0}, nil
	}
	return m.RunFunc(ctx, subcommand, extraArgs...)
}

// RunWithEnv delegates to RunFunc and records the call.
func (m *MockExecutor) RunWithEnv(ctx context.Context, env map[string]string, subcommand string, extraArgs ...string) (*Result, error) {
	m.record(ExecutorCall{Method: "RunWithEnv", Subcommand: subcommand, Args: extraArgs})
	if m.RunFunc == nil {
		return &Result{Success: true, ExitCode: 0}, nil
	}
	return m.RunFunc(ctx, subcommand, extraArgs...)
}

// Stream delegates to StreamFunc and records the call.
func (m *MockExecutor) Stream(ctx context.Context, w io.Writer, subcommand string, extraArgs ...string) error {
	m.record(ExecutorCall{Method: "Stream", Subcommand: subcommand, Args: extraArgs})
	if m.StreamFunc == nil {
		return nil
	}
	return m.StreamFunc(ctx, w, subcommand, extraArgs...)
}

// Engine delegates to EngineFunc and records the call.
func (m *MockExecutor) Engine(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	m.record(ExecutorCall{Method: "Engine", Args: args})
	if m.EngineFunc == nil {
		return &Result{Success: true, ExitCode: 0}, nil
	}
	return m.EngineFunc(ctx, timeout, args...)
}

// ContainerStates delegates to ContainerStatesFunc and records the call.
func (m *MockExecutor) ContainerStates(ctx context.Context) ([]ContainerState, error) {
	m.record(ExecutorCall{Method: "ContainerStates"})
	if m.ContainerStatesFunc == nil {
		return nil, nil
	}
	return m.ContainerStatesFunc(ctx)
}

// CheckPreconditions delegates to CheckPreconditionsFunc and records the call.
func (m *MockExecutor) CheckPreconditions(ctx context.Context) error {
	m.record(ExecutorCall{Method: "CheckPreconditions"})
	if m.CheckPreconditionsFunc == nil {
		return nil
	}
	return m.CheckPreconditionsFunc(ctx)
}

// ComposeFiles delegates to ComposeFilesFunc and records the call.
func (m *MockExecutor) ComposeFiles() []string {
	m.record(ExecutorCall{Method: "ComposeFiles"})
	if m.ComposeFilesFunc == nil {
		return nil
	}
	return m.ComposeFilesFunc()
}

func (m *MockExecutor) record(call ExecutorCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Reset clears all recorded calls.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockExecutor) GetCalls() []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ExecutorCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var _ Executor = (*MockExecutor)(nil)
