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
	"log/slog"
	"time"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
)

// -----------------------------------------------------------------------------
// Phases and Operations
// -----------------------------------------------------------------------------

// Phase is the controller's position in the operation state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseResolving     Phase = "resolving"
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseExecuting     Phase = "executing"
	PhaseVerifying     Phase = "verifying"
)

// Operation names a lifecycle operation for reporting.
type Operation string

const (
	OpBuild      Operation = "build"
	OpPull       Operation = "pull"
	OpStartBasic Operation = "start-basic"
	OpStartFull  Operation = "start-full"
	OpStop       Operation = "stop"
	OpRestart    Operation = "restart"
	OpUpdate     Operation = "update"
	OpClean      Operation = "clean"
)

// ErrCleanNotConfirmed is returned when clean runs without confirmation.
var ErrCleanNotConfirmed = errors.New("clean requires confirmation")

// OperationResult is the outcome of one lifecycle operation.
//
// Failures of the stack itself are results, not Go errors; the error
// return is reserved for infrastructure problems and carries the same
// message as the result for callers that only check one.
type OperationResult struct {
	// Operation that ran.
	Operation Operation

	// Success is true when the operation completed and, where applicable,
	// verification passed.
	Success bool

	// Health is the verification report for operations that verify.
	Health *HealthReport

	// Duration is the wall time of the whole operation.
	Duration time.Duration

	// Message is a one-line human summary.
	Message string
}

// -----------------------------------------------------------------------------
// Controller
// -----------------------------------------------------------------------------

// Controller composes the deployment components into lifecycle operations.
//
// # Description
//
// Every operation follows the same arc: resolve (already done at
// construction), bootstrap if the operation mutates state, execute engine
// commands, verify if the operation changes what is running. Compound
// operations reuse the primitive ones; restart is stop then start, update
// is pull then build then restart, and an early failure aborts the rest.
//
// # Thread Safety
//
// Controller is single-threaded. Cross-process exclusion comes from the
// CLI file lock, not from the controller.
type Controller struct {
	deployCtx DeploymentContext

	// full drives invocations with profile flags applied.
	full compose.Executor

	// base drives invocations without profiles, for the basic stack.
	base compose.Executor

	bootstrapper Bootstrapper
	verifier     HealthVerifier
	logger       *slog.Logger

	// verifyOpts is the polling budget applied after every start,
	// sourced from the health section of the deploy config.
	verifyOpts VerifyOptions

	phase Phase
}

// NewController wires a controller from its components.
//
// # Inputs
//
//   - deployCtx: Resolved deployment context
//   - full: Executor with the context's profiles applied
//   - base: Executor with no profiles (basic stack)
//   - bootstrapper: Directory layout bootstrapper
//   - verifier: Post-start health verifier
//   - verifyOpts: Polling budget for post-start verification
//     (zero values take the verifier defaults)
//   - logger: Structured logger (nil gets the default)
func NewController(deployCtx DeploymentContext, full, base compose.Executor, bootstrapper Bootstrapper, verifier HealthVerifier, verifyOpts VerifyOptions, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		deployCtx:    deployCtx,
		full:         full,
		base:         base,
		bootstrapper: bootstrapper,
		verifier:     verifier,
		verifyOpts:   verifyOpts,
		logger:       logger,
		phase:        PhaseIdle,
	}
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.logger.Debug("phase transition", "from", string(c.phase), "to", string(p))
	c.phase = p
}

// -----------------------------------------------------------------------------
// Primitive Operations
// -----------------------------------------------------------------------------

// Build rebuilds the stack images.
func (c *Controller) Build(ctx context.Context) (*OperationResult, error) {
	return c.runSimple(ctx, OpBuild, c.full, "build")
}

// Pull fetches the latest upstream images.
func (c *Controller) Pull(ctx context.Context) (*OperationResult, error) {
	return c.runSimple(ctx, OpPull, c.full, "pull")
}

// StartBasic boots the caster service alone, no optional profiles.
func (c *Controller) StartBasic(ctx context.Context) (*OperationResult, error) {
	return c.start(ctx, OpStartBasic, c.base)
}

// StartFull boots the stack with all requested profiles.
func (c *Controller) StartFull(ctx context.Context) (*OperationResult, error) {
	return c.start(ctx, OpStartFull, c.full)
}

// Stop brings the stack down, containers and networks. Volumes survive.
func (c *Controller) Stop(ctx context.Context) (*OperationResult, error) {
	return c.runSimple(ctx, OpStop, c.full, "down")
}

// -----------------------------------------------------------------------------
// Compound Operations
// -----------------------------------------------------------------------------

// Restart is stop followed by a full start with verification.
func (c *Controller) Restart(ctx context.Context) (*OperationResult, error) {
	start := time.Now()

	if result, err := c.Stop(ctx); err != nil {
		return c.failed(OpRestart, start, fmt.Sprintf("restart aborted: stop failed: %s", result.Message)), err
	}

	result, err := c.StartFull(ctx)
	if err != nil {
		return c.failed(OpRestart, start, "restart aborted: start failed"), err
	}

	result.Operation = OpRestart
	result.Duration = time.Since(start)
	return result, nil
}

// Update refreshes images and restarts onto them.
//
// Pull runs first; if it fails nothing is rebuilt and the running stack is
// untouched. Build failures likewise abort before the restart.
func (c *Controller) Update(ctx context.Context) (*OperationResult, error) {
	start := time.Now()

	if _, err := c.Pull(ctx); err != nil {
		return c.failed(OpUpdate, start, "update aborted: pull failed, running stack untouched"), err
	}
	if _, err := c.Build(ctx); err != nil {
		return c.failed(OpUpdate, start, "update aborted: build failed, running stack untouched"), err
	}

	result, err := c.Restart(ctx)
	if err != nil {
		return c.failed(OpUpdate, start, "update failed during restart"), err
	}

	result.Operation = OpUpdate
	result.Duration = time.Since(start)
	if result.Success {
		result.Message = "stack updated and verified"
	}
	return result, nil
}

// Clean removes containers, volumes, orphans, and dangling engine state.
//
// Destroys persistent data; confirmed must be explicitly true, either from
// the --force flag or an interactive confirmation.
func (c *Controller) Clean(ctx context.Context, confirmed bool) (*OperationResult, error) {
	start := time.Now()

	if !confirmed {
		return c.failed(OpClean, start, "clean requires --force or interactive confirmation"), ErrCleanNotConfirmed
	}

	c.setPhase(PhaseExecuting)
	defer c.setPhase(PhaseIdle)

	if _, err := c.full.Run(ctx, "down", "-v", "--remove-orphans"); err != nil {
		return c.failed(OpClean, start, "clean failed bringing the stack down"), err
	}

	// Prune is best-effort; a failure here leaves only dangling state.
	// --volumes extends the prune to anonymous volumes, which down -v
	// does not reach.
	if _, err := c.full.Engine(ctx, 5*time.Minute, "system", "prune", "-f", "--volumes"); err != nil {
		c.logger.Warn("system prune failed", "error", err)
	}

	return &OperationResult{
		Operation: OpClean,
		Success:   true,
		Duration:  time.Since(start),
		Message:   "stack removed, volumes deleted, engine state pruned",
	}, nil
}

// -----------------------------------------------------------------------------
// Read-only Operations
// -----------------------------------------------------------------------------

// Status returns the current container states and a single health probe.
func (c *Controller) Status(ctx context.Context) ([]compose.ContainerState, *HealthReport, error) {
	states, err := c.full.ContainerStates(ctx)
	if err != nil {
		return nil, nil, err
	}

	report, err := c.verifier.Probe(ctx)
	if err != nil {
		return states, nil, err
	}
	return states, report, nil
}

// Logs streams service logs to w. Args pass through to the engine, so
// --tail, -f, and service names all work unmodified.
func (c *Controller) Logs(ctx context.Context, w io.Writer, args ...string) error {
	return c.full.Stream(ctx, w, "logs", args...)
}

// Health runs the full polling verification.
func (c *Controller) Health(ctx context.Context, opts VerifyOptions) (*HealthReport, error) {
	c.setPhase(PhaseVerifying)
	defer c.setPhase(PhaseIdle)
	return c.verifier.Verify(ctx, opts)
}

// -----------------------------------------------------------------------------
// Private Helpers
// -----------------------------------------------------------------------------

// start is the shared path for StartBasic and StartFull.
func (c *Controller) start(ctx context.Context, op Operation, executor compose.Executor) (*OperationResult, error) {
	startTime := time.Now()

	if err := executor.CheckPreconditions(ctx); err != nil {
		return c.failed(op, startTime, err.Error()), err
	}

	c.setPhase(PhaseBootstrapping)
	if report, err := c.bootstrapper.EnsureLayout(); err != nil {
		c.setPhase(PhaseIdle)
		return c.failed(op, startTime, fmt.Sprintf("bootstrap failed: %d directories could not be created", len(report.Failed))), err
	}
	if _, err := c.bootstrapper.SeedCasterConfig(); err != nil {
		c.setPhase(PhaseIdle)
		return c.failed(op, startTime, "bootstrap failed seeding the caster config"), err
	}

	c.setPhase(PhaseExecuting)
	if _, err := executor.Run(ctx, "up", "-d"); err != nil {
		c.setPhase(PhaseIdle)
		return c.failed(op, startTime, "engine failed to start the stack"), err
	}

	c.setPhase(PhaseVerifying)
	defer c.setPhase(PhaseIdle)

	health, err := c.verifier.Verify(ctx, c.verifyOpts)
	if err != nil {
		return c.failed(op, startTime, "verification could not complete"), err
	}

	result := &OperationResult{
		Operation: op,
		Success:   health.Overall == HealthHealthy,
		Health:    health,
		Duration:  time.Since(startTime),
		Message:   health.Detail,
	}
	if !result.Success {
		return result, fmt.Errorf("stack started but is %s: %s", health.Overall, health.Detail)
	}
	return result, nil
}

// runSimple executes one buffered subcommand with precondition checks and
// no verification.
func (c *Controller) runSimple(ctx context.Context, op Operation, executor compose.Executor, subcommand string, args ...string) (*OperationResult, error) {
	start := time.Now()

	if err := executor.CheckPreconditions(ctx); err != nil {
		return c.failed(op, start, err.Error()), err
	}

	c.setPhase(PhaseExecuting)
	defer c.setPhase(PhaseIdle)

	if _, err := executor.Run(ctx, subcommand, args...); err != nil {
		return c.failed(op, start, fmt.Sprintf("%s failed", subcommand)), err
	}

	return &OperationResult{
		Operation: op,
		Success:   true,
		Duration:  time.Since(start),
		Message:   fmt.Sprintf("%s completed", op),
	}, nil
}

func (c *Controller) failed(op Operation, start time.Time, message string) *OperationResult {
	return &OperationResult{
		Operation: op,
		Success:   false,
		Duration:  time.Since(start),
		Message:   message,
	}
}
