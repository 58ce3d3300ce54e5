// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
)

// -----------------------------------------------------------------------------
// HealthVerifier Interface
// -----------------------------------------------------------------------------

// HealthStatus classifies the overall state of the caster stack.
type HealthStatus string

const (
	// HealthHealthy means the in-container health check passed.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means containers are running but the health check
	// never passed within the polling window.
	HealthDegraded HealthStatus = "degraded"

	// HealthDown means the primary service container is not running.
	HealthDown HealthStatus = "down"
)

// HealthVerifier confirms the caster stack actually serves after a start.
//
// # Description
//
// A successful `up` only means containers were created; the caster takes
// time to bind its NTRIP and web ports. HealthVerifier polls the stack's
// own health check until it passes or the attempt budget is exhausted,
// then classifies the outcome.
//
// # Thread Safety
//
// Implementations are used from a single goroutine.
type HealthVerifier interface {
	// Verify polls the stack health check until it passes or gives up.
	//
	// # Description
	//
	// Runs the in-container health check through the engine once per
	// attempt, sleeping the configured interval between attempts. A pass
	// on any attempt short-circuits to healthy. After the final failed
	// attempt the container states decide between degraded (running but
	// unhealthy) and down (primary container exited or absent).
	//
	// The classification is carried in the report, not the error; a
	// degraded or down stack is a result, not a Go failure. The error is
	// non-nil only for infrastructure problems such as context
	// cancellation.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - opts: Attempt budget and interval (zero values take defaults)
	//
	// # Outputs
	//
	//   - *HealthReport: Classified outcome with per-service detail
	//   - error: Non-nil only on cancellation or state-query failure
	Verify(ctx context.Context, opts VerifyOptions) (*HealthReport, error)

	// Probe runs a single health check attempt without polling.
	// Used by the status command for a point-in-time answer.
	Probe(ctx context.Context) (*HealthReport, error)
}

// VerifyOptions configures health polling.
type VerifyOptions struct {
	// MaxAttempts is the polling budget. Default: 30
	MaxAttempts int

	// Interval is the delay between attempts. Default: 2s
	Interval time.Duration
}

// HealthReport is the outcome of one verification run.
type HealthReport struct {
	// ID uniquely identifies this verification run.
	ID string

	// Overall is the classified stack status.
	Overall HealthStatus

	// Services maps service names to their container state.
	Services map[string]ServiceHealth

	// Attempts is how many probes ran.
	Attempts int

	// Elapsed is the total verification duration.
	Elapsed time.Duration

	// Detail is a short human-readable explanation.
	Detail string
}

// ServiceHealth is the observed state of one service's container.
type ServiceHealth struct {
	State  string
	Status string
}

// -----------------------------------------------------------------------------
// DefaultHealthVerifier Implementation
// -----------------------------------------------------------------------------

// DefaultHealthVerifier implements HealthVerifier against the engine.
//
// The primary probe is the caster's own healthcheck script run inside the
// service container, the same check its container HEALTHCHECK uses. The web
// endpoint probe is a fallback for images without the script.
type DefaultHealthVerifier struct {
	executor compose.Executor
	service  string
	webPort  int

	// sleep is injectable so tests do not wait out real intervals.
	sleep func(ctx context.Context, d time.Duration) error

	// httpClient performs the web endpoint fallback probe.
	httpClient *http.Client
}

// NewDefaultHealthVerifier creates a verifier for the given service.
//
// # Inputs
//
//   - executor: Engine executor scoped to the deployment
//   - service: Primary compose service name (e.g. "ntripcaster")
//   - webPort: Host port of the caster's web endpoint
func NewDefaultHealthVerifier(executor compose.Executor, service string, webPort int) *DefaultHealthVerifier {
	return &DefaultHealthVerifier{
		executor: executor,
		service:  service,
		webPort:  webPort,
		sleep:    contextSleep,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Verify polls the stack health check until it passes or gives up.
func (v *DefaultHealthVerifier) Verify(ctx context.Context, opts VerifyOptions) (*HealthReport, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 30
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}

	start := time.Now()
	report := &HealthReport{
		ID:       uuid.NewString(),
		Services: make(map[string]ServiceHealth),
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		report.Attempts = attempt

		if v.probeOnce(ctx) {
			report.Overall = HealthHealthy
			report.Detail = fmt.Sprintf("health check passed on attempt %d", attempt)
			report.Elapsed = time.Since(start)
			v.fillServices(ctx, report)
			return report, nil
		}

		if attempt < opts.MaxAttempts {
			if err := v.sleep(ctx, opts.Interval); err != nil {
				return nil, err
			}
		}
	}

	report.Elapsed = time.Since(start)
	if err := v.classifyFailure(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Probe runs a single health check attempt without polling.
func (v *DefaultHealthVerifier) Probe(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		ID:       uuid.NewString(),
		Services: make(map[string]ServiceHealth),
		Attempts: 1,
	}
	start := time.Now()

	if v.probeOnce(ctx) {
		report.Overall = HealthHealthy
		report.Detail = "health check passed"
		report.Elapsed = time.Since(start)
		v.fillServices(ctx, report)
		return report, nil
	}

	report.Elapsed = time.Since(start)
	if err := v.classifyFailure(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// probeOnce runs one health check attempt.
func (v *DefaultHealthVerifier) probeOnce(ctx context.Context) bool {
	// `-T` because there is no TTY under cron or CI.
	result, err := v.executor.Run(ctx, "exec", "-T", v.service, "python3", "healthcheck.py")
	if err == nil && result.Success {
		return true
	}

	// Images without the script report "no such file"; fall back to the
	// web endpoint rather than declaring the stack unhealthy.
	if result != nil && strings.Contains(result.Stderr, "No such file") {
		return v.probeWebEndpoint(ctx)
	}
	return false
}

// probeWebEndpoint checks the caster's HTTP health endpoint from the host.
func (v *DefaultHealthVerifier) probeWebEndpoint(ctx context.Context) bool {
	url := fmt.Sprintf("http://localhost:%d/health", v.webPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// classifyFailure distinguishes degraded from down after polling gave up.
func (v *DefaultHealthVerifier) classifyFailure(ctx context.Context, report *HealthReport) error {
	states, err := v.executor.ContainerStates(ctx)
	if err != nil {
		return fmt.Errorf("health classification failed: %w", err)
	}

	primaryRunning := false
	for _, s := range states {
		report.Services[s.Service] = ServiceHealth{State: s.State, Status: s.Status}
		if s.Service == v.service && s.Running() {
			primaryRunning = true
		}
	}

	if primaryRunning {
		report.Overall = HealthDegraded
		report.Detail = fmt.Sprintf("%s is running but the health check did not pass within %d attempts", v.service, report.Attempts)
	} else {
		report.Overall = HealthDown
		report.Detail = fmt.Sprintf("%s container is not running", v.service)
	}
	return nil
}

// fillServices records container states on a successful report, best-effort.
func (v *DefaultHealthVerifier) fillServices(ctx context.Context, report *HealthReport) {
	states, err := v.executor.ContainerStates(ctx)
	if err != nil {
		return
	}
	for _, s := range states {
		report.Services[s.Service] = ServiceHealth{State: s.State, Status: s.Status}
	}
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time interface compliance check.
var _ HealthVerifier = (*DefaultHealthVerifier)(nil)
