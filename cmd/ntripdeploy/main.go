// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
ntripdeploy is the deployment CLI for the 2RTK NTRIP caster stack.

It resolves an environment (development, testing, production) plus optional
service profiles into layered compose invocations against the container
engine, verifies the caster actually serves after every start, and manages
backups of its persistent volumes.

Usage:

	ntripdeploy start -e production -p nginx,monitoring
	ntripdeploy status
	ntripdeploy backup
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Ctrl-C cancels the in-flight engine invocation instead of leaving
	// orphaned compose children behind.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(CLIExitError)
	}
}
