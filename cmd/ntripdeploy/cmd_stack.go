// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/config"
	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/process"
)

// app bundles the wired components for one CLI invocation.
type app struct {
	deployCtx  DeploymentContext
	controller *Controller
	backups    BackupManager
	lock       process.Locker
	logger     *slog.Logger
}

// newApp loads config, resolves the deployment context, and wires every
// component. Called once per command.
func newApp() *app {
	if err := config.Load(); err != nil {
		Failf("failed to load configuration: %v", err)
	}
	cfg := config.Global

	env := flagEnvironment
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	profiles := combinedProfiles()
	if profiles == "" {
		profiles = os.Getenv("PROFILES")
	}
	debug := flagDebug
	if !debug {
		v := strings.ToLower(os.Getenv("DEBUG"))
		debug = v == "1" || v == "true" || v == "yes"
	}

	deployCtx := ResolveContext(cfg.Deployment.ProjectName, env, profiles, debug)
	PrintWarnings(deployCtx.Warnings)

	level := slog.LevelInfo
	if deployCtx.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	proc := process.NewDefaultManager()
	timeout := time.Duration(cfg.Engine.TimeoutSeconds) * time.Second

	full, err := compose.NewDefaultExecutor(compose.Config{
		DeployRoot:     cfg.Deployment.Root,
		ProjectName:    deployCtx.ScopedName,
		Layers:         deployCtx.Layers,
		Profiles:       deployCtx.Profiles,
		EngineBinary:   cfg.Engine.Binary,
		DefaultTimeout: timeout,
	}, proc)
	if err != nil {
		Failf("invalid deployment configuration: %v", err)
	}

	base, err := compose.NewDefaultExecutor(compose.Config{
		DeployRoot:     cfg.Deployment.Root,
		ProjectName:    deployCtx.ScopedName,
		Layers:         deployCtx.Layers,
		EngineBinary:   cfg.Engine.Binary,
		DefaultTimeout: timeout,
	}, proc)
	if err != nil {
		Failf("invalid deployment configuration: %v", err)
	}

	bootstrapper := NewDefaultBootstrapper(cfg.Deployment.Root)
	verifier := NewDefaultHealthVerifier(full, cfg.Deployment.Service, cfg.Deployment.WebPort)
	verifyOpts := VerifyOptions{
		MaxAttempts: cfg.Health.MaxAttempts,
		Interval:    time.Duration(cfg.Health.IntervalSeconds) * time.Second,
	}

	backupRoot := cfg.Backup.Dir
	if !filepath.IsAbs(backupRoot) {
		backupRoot = filepath.Join(cfg.Deployment.Root, backupRoot)
	}

	return &app{
		deployCtx:  deployCtx,
		controller: NewController(deployCtx, full, base, bootstrapper, verifier, verifyOpts, logger),
		backups:    NewDefaultBackupManager(full, deployCtx, backupRoot, cfg.Backup.Volumes),
		lock:       process.NewFileLock(process.DefaultLockConfig(cfg.Deployment.Root)),
		logger:     logger,
	}
}

// acquireLock takes the deployment lock for mutating operations.
func (a *app) acquireLock() {
	if err := a.lock.Acquire(); err != nil {
		Failf("%v", err)
	}
}

// finish prints the operation outcome and exits accordingly.
func finish(result *OperationResult, err error) {
	if err != nil {
		if result != nil && result.Health != nil {
			PrintHealthReport(result.Health)
		}
		Failf("%s: %v", result.Operation, err)
	}
	if result.Health != nil {
		PrintHealthReport(result.Health)
	}
	Successf("%s (%s)", result.Message, result.Duration.Round(10*time.Millisecond))
}

// finishStart is finish plus the resolved deployment view, so a verified
// start ends by telling the operator where the caster now serves.
func (a *app) finishStart(result *OperationResult, err error) {
	finish(result, err)
	fmt.Println()
	writeDeploymentInfo(os.Stdout, a.deployCtx, config.Global)
}

// -----------------------------------------------------------------------------
// Command Handlers
// -----------------------------------------------------------------------------

func runBuild(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Building images for %s", a.deployCtx.ScopedName)
	finish(a.controller.Build(cmd.Context()))
}

func runPull(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Pulling images for %s", a.deployCtx.ScopedName)
	finish(a.controller.Pull(cmd.Context()))
}

func runStartBasic(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Starting %s (basic stack)", a.deployCtx.ScopedName)
	a.finishStart(a.controller.StartBasic(cmd.Context()))
}

func runStartFull(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Starting %s with profiles: %s", a.deployCtx.ScopedName, a.deployCtx.Profiles)
	a.finishStart(a.controller.StartFull(cmd.Context()))
}

func runStop(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Stopping %s", a.deployCtx.ScopedName)
	finish(a.controller.Stop(cmd.Context()))
}

func runRestart(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Restarting %s", a.deployCtx.ScopedName)
	finish(a.controller.Restart(cmd.Context()))
}

func runUpdate(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Updating %s", a.deployCtx.ScopedName)
	finish(a.controller.Update(cmd.Context()))
}

func runClean(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	confirmed := forceClean
	if !confirmed {
		fmt.Printf("This deletes ALL containers and volumes for %s, including caster data.\n", a.deployCtx.ScopedName)
		fmt.Print("Type the project name to confirm: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		confirmed = strings.TrimSpace(answer) == a.deployCtx.ScopedName
	}

	finish(a.controller.Clean(cmd.Context(), confirmed))
}

func runStatus(cmd *cobra.Command, args []string) {
	a := newApp()

	states, report, err := a.controller.Status(cmd.Context())
	if err != nil {
		Failf("status failed: %v", err)
	}

	PrintStatusTable(states)
	fmt.Println()
	PrintHealthReport(report)

	if report.Overall != HealthHealthy {
		os.Exit(CLIExitError)
	}
}

func runLogs(cmd *cobra.Command, args []string) {
	a := newApp()

	logArgs := []string{"--tail", logsTail}
	if logsFollow {
		logArgs = append(logArgs, "-f")
	}
	logArgs = append(logArgs, args...)

	if err := a.controller.Logs(cmd.Context(), os.Stdout, logArgs...); err != nil {
		Failf("logs failed: %v", err)
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	a := newApp()
	writeDeploymentInfo(os.Stdout, a.deployCtx, config.Global)
}

// writeDeploymentInfo renders the resolved deployment: environment, config
// layers, profiles, and the URLs the caster serves on.
func writeDeploymentInfo(w io.Writer, deployCtx DeploymentContext, cfg config.DeployConfig) {
	fmt.Fprintf(w, "Project:      %s\n", deployCtx.ProjectName)
	fmt.Fprintf(w, "Environment:  %s\n", deployCtx.Environment)
	fmt.Fprintf(w, "Scoped name:  %s\n", deployCtx.ScopedName)
	fmt.Fprintf(w, "Profiles:     %s\n", deployCtx.Profiles)
	fmt.Fprintf(w, "Config layers:\n")
	for _, layer := range deployCtx.Layers {
		fmt.Fprintf(w, "  - %s\n", filepath.Join(cfg.Deployment.Root, layer))
	}
	fmt.Fprintf(w, "Deploy root:  %s\n", cfg.Deployment.Root)
	fmt.Fprintf(w, "NTRIP:        ntrip://localhost:%d\n", cfg.Deployment.NtripPort)
	fmt.Fprintf(w, "Web:          http://localhost:%d (health: /health)\n", cfg.Deployment.WebPort)
	fmt.Fprintf(w, "Backups:      %s\n", cfg.Backup.Dir)
}
