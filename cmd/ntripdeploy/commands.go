// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// --- Global Command Variables ---
var (
	flagEnvironment string
	flagProfiles    string
	flagProfile     []string
	flagDebug       bool
	forceClean      bool
	logsTail        string
	logsFollow      bool
	healthAttempts  int
	healthInterval  int

	rootCmd = &cobra.Command{
		Use:   "ntripdeploy",
		Short: "Deploy and manage the 2RTK NTRIP caster stack",
		Long: `ntripdeploy drives the containerized NTRIP caster through its
full lifecycle: building images, starting the stack for an environment
with optional service profiles, verifying health, and managing backups
of the caster's persistent state.`,
	}

	// --- Image Management ---
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build the caster stack images",
		Run:   runBuild, // Defined in cmd_stack.go
	}
	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Pull the latest upstream images",
		Run:   runPull, // Defined in cmd_stack.go
	}

	// --- Lifecycle ---
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the caster service (basic stack, no profiles)",
		Run:   runStartBasic, // Defined in cmd_stack.go
	}
	startFullCmd = &cobra.Command{
		Use:   "start-full",
		Short: "Start the full stack including all requested profiles",
		Run:   runStartFull, // Defined in cmd_stack.go
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the stack, keeping volumes",
		Run:   runStop, // Defined in cmd_stack.go
	}
	restartCmd = &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the full stack, verifying health",
		Run:   runRestart, // Defined in cmd_stack.go
	}
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Pull, rebuild, and restart onto the new images",
		Run:   runUpdate, // Defined in cmd_stack.go
	}
	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "DANGER: Remove containers, volumes, and dangling engine state",
		Run:   runClean, // Defined in cmd_stack.go
	}

	// --- Observation ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show container states and a point-in-time health probe",
		Run:   runStatus, // Defined in cmd_stack.go
	}
	logsCmd = &cobra.Command{
		Use:   "logs [service...]",
		Short: "Stream logs from stack services",
		Run:   runLogs, // Defined in cmd_stack.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Poll the caster health check until it passes or gives up",
		Run:   runHealth, // Defined in cmd_health.go
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show the resolved deployment configuration",
		Run:   runInfo, // Defined in cmd_stack.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Archive the caster config and data volumes",
		Run:   runBackup, // Defined in cmd_backup.go
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [backup-name]",
		Short: "Restore a backup over the current state (stack must be stopped)",
		Args:  cobra.ExactArgs(1),
		Run:   runRestore, // Defined in cmd_backup.go
	}
	backupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "List available backups",
		Run:   runListBackups, // Defined in cmd_backup.go
	}
)

// combinedProfiles merges the repeatable --profile entries with the
// comma-separated --profiles value into one raw list for resolution.
func combinedProfiles() string {
	parts := append([]string{flagProfiles}, flagProfile...)
	return strings.Join(parts, ",")
}

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVarP(&flagEnvironment, "environment", "e", "",
		"Deployment environment: development, testing, or production (falls back to $ENVIRONMENT)")
	rootCmd.PersistentFlags().StringVar(&flagProfiles, "profiles", "",
		"Comma-separated service profiles, e.g. nginx,monitoring (falls back to $PROFILES)")
	rootCmd.PersistentFlags().StringArrayVarP(&flagProfile, "profile", "p", nil,
		"Service profile, repeatable: -p nginx -p monitoring")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false,
		"Enable verbose diagnostics (falls back to $DEBUG)")

	// --env is an accepted spelling of --environment.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "env" {
			name = "environment"
		}
		return pflag.NormalizedName(name)
	})

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(pullCmd)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(startFullCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVar(&forceClean, "force", false, "Required to confirm deletion of all stack data")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of log lines to show from the end")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().IntVar(&healthAttempts, "attempts", 30, "Maximum health check attempts")
	healthCmd.Flags().IntVar(&healthInterval, "interval", 2, "Seconds between attempts")

	rootCmd.AddCommand(infoCmd)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
}
