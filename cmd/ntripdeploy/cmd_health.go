// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/config"
)

// healthVerifyOptions layers the polling budget: the health section of the
// deploy config is the baseline, explicit flags win over it.
func healthVerifyOptions(cmd *cobra.Command) VerifyOptions {
	opts := VerifyOptions{
		MaxAttempts: config.Global.Health.MaxAttempts,
		Interval:    time.Duration(config.Global.Health.IntervalSeconds) * time.Second,
	}
	if cmd.Flags().Changed("attempts") {
		opts.MaxAttempts = healthAttempts
	}
	if cmd.Flags().Changed("interval") {
		opts.Interval = time.Duration(healthInterval) * time.Second
	}
	return opts
}

func runHealth(cmd *cobra.Command, args []string) {
	a := newApp()
	opts := healthVerifyOptions(cmd)

	Infof("Verifying %s (up to %d attempts, %s apart)", a.deployCtx.ScopedName, opts.MaxAttempts, opts.Interval)

	report, err := a.controller.Health(cmd.Context(), opts)
	if err != nil {
		Failf("health verification failed: %v", err)
	}

	PrintHealthReport(report)
	if report.Overall != HealthHealthy {
		os.Exit(CLIExitError)
	}
}
