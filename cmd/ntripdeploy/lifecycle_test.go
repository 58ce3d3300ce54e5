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
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
)

// mockBootstrapper is a no-op Bootstrapper for controller tests.
type mockBootstrapper struct {
	ensureErr error
	seedErr   error
	ensured   int
}

func (m *mockBootstrapper) EnsureLayout() (*LayoutReport, error) {
	m.ensured++
	return &LayoutReport{Failed: map[string]error{}}, m.ensureErr
}

func (m *mockBootstrapper) SeedCasterConfig() (bool, error) {
	return false, m.seedErr
}

// mockVerifier returns a canned health report.
type mockVerifier struct {
	report   *HealthReport
	err      error
	calls    int
	lastOpts VerifyOptions
}

func (m *mockVerifier) Verify(ctx context.Context, opts VerifyOptions) (*HealthReport, error) {
	m.calls++
	m.lastOpts = opts
	return m.report, m.err
}

func (m *mockVerifier) Probe(ctx context.Context) (*HealthReport, error) {
	m.calls++
	return m.report, m.err
}

func healthyReport() *HealthReport {
	return &HealthReport{ID: "test", Overall: HealthHealthy, Detail: "health check passed", Attempts: 1}
}

func newTestController(full, base *compose.MockExecutor, verifier HealthVerifier) (*Controller, *mockBootstrapper) {
	boot := &mockBootstrapper{}
	deployCtx := ResolveContext("ntripcaster", "testing", "nginx", false)
	c := NewController(deployCtx, full, base, boot, verifier, VerifyOptions{}, slog.Default())
	return c, boot
}

func TestStartFullHappyPath(t *testing.T) {
	full := &compose.MockExecutor{}
	c, boot := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.StartFull(context.Background())
	if err != nil {
		t.Fatalf("StartFull failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success: %+v", result)
	}
	if result.Health == nil || result.Health.Overall != HealthHealthy {
		t.Error("result should carry the health report")
	}
	if boot.ensured != 1 {
		t.Errorf("bootstrap should run exactly once, ran %d times", boot.ensured)
	}

	// Sequence: preconditions, up -d on the profiled executor.
	var sawUp bool
	for _, call := range full.GetCalls() {
		if call.Method == "Run" && call.Subcommand == "up" {
			sawUp = true
			if len(call.Args) != 1 || call.Args[0] != "-d" {
				t.Errorf("up should run detached, args %v", call.Args)
			}
		}
	}
	if !sawUp {
		t.Error("StartFull never invoked up")
	}
	if c.Phase() != PhaseIdle {
		t.Errorf("controller should return to idle, in %s", c.Phase())
	}
}

func TestStartBasicUsesBaseExecutor(t *testing.T) {
	full := &compose.MockExecutor{}
	base := &compose.MockExecutor{}
	c, _ := newTestController(full, base, &mockVerifier{report: healthyReport()})

	if _, err := c.StartBasic(context.Background()); err != nil {
		t.Fatalf("StartBasic failed: %v", err)
	}

	for _, call := range full.GetCalls() {
		if call.Method == "Run" && call.Subcommand == "up" {
			t.Error("StartBasic must not start profiled services")
		}
	}
	var sawUp bool
	for _, call := range base.GetCalls() {
		if call.Method == "Run" && call.Subcommand == "up" {
			sawUp = true
		}
	}
	if !sawUp {
		t.Error("StartBasic never invoked up on the base executor")
	}
}

func TestStartVerifiesWithConfiguredBudget(t *testing.T) {
	verifier := &mockVerifier{report: healthyReport()}
	deployCtx := ResolveContext("ntripcaster", "testing", "", false)
	opts := VerifyOptions{MaxAttempts: 7, Interval: 500 * time.Millisecond}
	c := NewController(deployCtx, &compose.MockExecutor{}, &compose.MockExecutor{}, &mockBootstrapper{}, verifier, opts, slog.Default())

	if _, err := c.StartFull(context.Background()); err != nil {
		t.Fatalf("StartFull failed: %v", err)
	}
	if verifier.lastOpts != opts {
		t.Errorf("verification ran with %+v, want the configured %+v", verifier.lastOpts, opts)
	}
}

func TestStartReportsDegradedAsFailure(t *testing.T) {
	verifier := &mockVerifier{report: &HealthReport{
		Overall: HealthDegraded,
		Detail:  "running but unhealthy",
	}}
	c, _ := newTestController(&compose.MockExecutor{}, &compose.MockExecutor{}, verifier)

	result, err := c.StartFull(context.Background())
	if err == nil {
		t.Fatal("degraded stack should surface as an error exit")
	}
	if result.Success {
		t.Error("result should not be successful")
	}
	if result.Health.Overall != HealthDegraded {
		t.Error("result should carry the degraded report")
	}
}

func TestStartAbortsOnPreconditionFailure(t *testing.T) {
	full := &compose.MockExecutor{
		CheckPreconditionsFunc: func(ctx context.Context) error {
			return compose.ErrEngineNotFound
		},
	}
	c, boot := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	_, err := c.StartFull(context.Background())
	if !errors.Is(err, compose.ErrEngineNotFound) {
		t.Errorf("expected ErrEngineNotFound, got %v", err)
	}
	if boot.ensured != 0 {
		t.Error("bootstrap must not run when preconditions fail")
	}
	for _, call := range full.GetCalls() {
		if call.Method == "Run" {
			t.Error("no engine mutation may happen after a failed precondition")
		}
	}
}

func TestStopRunsDown(t *testing.T) {
	full := &compose.MockExecutor{}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}

	var sawDown bool
	for _, call := range full.GetCalls() {
		if call.Method == "Run" && call.Subcommand == "down" {
			sawDown = true
			if len(call.Args) != 0 {
				t.Errorf("plain stop must not remove volumes, args %v", call.Args)
			}
		}
	}
	if !sawDown {
		t.Error("Stop never invoked down")
	}
}

func TestRestartComposesStopAndStart(t *testing.T) {
	full := &compose.MockExecutor{}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if result.Operation != OpRestart {
		t.Errorf("result operation = %s", result.Operation)
	}

	var order []string
	for _, call := range full.GetCalls() {
		if call.Method == "Run" {
			order = append(order, call.Subcommand)
		}
	}
	if len(order) != 2 || order[0] != "down" || order[1] != "up" {
		t.Errorf("expected down then up, got %v", order)
	}
}

func TestUpdateAbortsBeforeBuildWhenPullFails(t *testing.T) {
	full := &compose.MockExecutor{
		RunFunc: func(ctx context.Context, subcommand string, extraArgs ...string) (*compose.Result, error) {
			if subcommand == "pull" {
				return &compose.Result{Success: false, ExitCode: 1}, fmt.Errorf("registry unreachable")
			}
			return &compose.Result{Success: true}, nil
		},
	}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.Update(context.Background())
	if err == nil {
		t.Fatal("expected update to fail when pull fails")
	}
	if result.Success {
		t.Error("result should not be successful")
	}

	for _, call := range full.GetCalls() {
		if call.Method == "Run" && (call.Subcommand == "build" || call.Subcommand == "down" || call.Subcommand == "up") {
			t.Errorf("update must abort before %s when pull fails", call.Subcommand)
		}
	}
}

func TestUpdateRunsPullBuildRestartInOrder(t *testing.T) {
	full := &compose.MockExecutor{}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.Update(context.Background())
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !result.Success || result.Operation != OpUpdate {
		t.Errorf("unexpected result: %+v", result)
	}

	var order []string
	for _, call := range full.GetCalls() {
		if call.Method == "Run" {
			order = append(order, call.Subcommand)
		}
	}
	want := []string{"pull", "build", "down", "up"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestCleanRequiresConfirmation(t *testing.T) {
	full := &compose.MockExecutor{}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	_, err := c.Clean(context.Background(), false)
	if !errors.Is(err, ErrCleanNotConfirmed) {
		t.Errorf("expected ErrCleanNotConfirmed, got %v", err)
	}
	for _, call := range full.GetCalls() {
		if call.Method == "Run" || call.Method == "Engine" {
			t.Error("unconfirmed clean must not touch the engine")
		}
	}
}

func TestCleanRemovesVolumesAndPrunes(t *testing.T) {
	full := &compose.MockExecutor{}
	c, _ := newTestController(full, &compose.MockExecutor{}, &mockVerifier{report: healthyReport()})

	result, err := c.Clean(context.Background(), true)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}

	var sawDown, sawPrune bool
	for _, call := range full.GetCalls() {
		if call.Method == "Run" && call.Subcommand == "down" {
			sawDown = true
			joined := fmt.Sprint(call.Args)
			if joined != "[-v --remove-orphans]" {
				t.Errorf("clean down args = %v", call.Args)
			}
		}
		if call.Method == "Engine" && len(call.Args) > 0 && call.Args[0] == "system" {
			sawPrune = true
			joined := fmt.Sprint(call.Args)
			if !strings.Contains(joined, "--volumes") {
				t.Errorf("prune must include anonymous volumes, args %v", call.Args)
			}
		}
	}
	if !sawDown || !sawPrune {
		t.Errorf("clean must down -v and prune, saw down=%v prune=%v", sawDown, sawPrune)
	}
}

func TestStatusCombinesStatesAndProbe(t *testing.T) {
	full := &compose.MockExecutor{
		ContainerStatesFunc: func(ctx context.Context) ([]compose.ContainerState, error) {
			return []compose.ContainerState{
				{Service: "ntripcaster", State: "running", Status: "Up 3 hours (healthy)"},
			}, nil
		},
	}
	verifier := &mockVerifier{report: healthyReport()}
	c, _ := newTestController(full, &compose.MockExecutor{}, verifier)

	states, report, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(states) != 1 || states[0].Service != "ntripcaster" {
		t.Errorf("unexpected states: %+v", states)
	}
	if report.Overall != HealthHealthy {
		t.Errorf("unexpected health: %s", report.Overall)
	}
	if verifier.calls != 1 {
		t.Errorf("status should probe once, probed %d times", verifier.calls)
	}
}

func TestHealthDelegatesToVerifier(t *testing.T) {
	verifier := &mockVerifier{report: &HealthReport{Overall: HealthDown, Detail: "not running"}}
	c, _ := newTestController(&compose.MockExecutor{}, &compose.MockExecutor{}, verifier)

	report, err := c.Health(context.Background(), VerifyOptions{MaxAttempts: 5, Interval: time.Second})
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if report.Overall != HealthDown {
		t.Errorf("unexpected overall: %s", report.Overall)
	}
	if c.Phase() != PhaseIdle {
		t.Errorf("controller should return to idle, in %s", c.Phase())
	}
}
