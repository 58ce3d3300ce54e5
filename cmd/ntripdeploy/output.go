// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/srgizh/ntripdeploy/cmd/ntripdeploy/internal/infra/compose"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess = 0 // Operation completed and, where applicable, verified
	CLIExitError   = 1 // Operation failed or the stack is not healthy
)

// ANSI sequences, emitted only on a TTY.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// useColor is decided once at startup.
var useColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func colorize(color, s string) string {
	if !useColor {
		return s
	}
	return color + s + ansiReset
}

// statusColor maps health and container states to a display color.
func statusColor(state string) string {
	switch state {
	case "running", string(HealthHealthy):
		return ansiGreen
	case string(HealthDegraded), "restarting", "created":
		return ansiYellow
	default:
		return ansiRed
	}
}

// PrintWarnings surfaces resolution warnings once, before any output.
func PrintWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiYellow, "Warning:"), w)
	}
}

// PrintStatusTable renders container states as an aligned table.
func PrintStatusTable(states []compose.ContainerState) {
	if len(states) == 0 {
		fmt.Println("No containers found for this deployment.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tSTATUS\tIMAGE")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Service,
			colorize(statusColor(s.State), s.State),
			s.Status,
			s.Image)
	}
	w.Flush()
}

// PrintHealthReport renders a verification outcome.
func PrintHealthReport(report *HealthReport) {
	fmt.Printf("Overall: %s (%d attempts, %s)\n",
		colorize(statusColor(string(report.Overall)), string(report.Overall)),
		report.Attempts,
		report.Elapsed.Round(10*time.Millisecond))
	fmt.Printf("Detail:  %s\n", report.Detail)

	if len(report.Services) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tSTATUS")
	for name, svc := range report.Services {
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, colorize(statusColor(svc.State), svc.State), svc.Status)
	}
	w.Flush()
}

// PrintBackupReport renders per-member backup or restore outcomes.
func PrintBackupReport(report *BackupReport) {
	fmt.Printf("Archive: %s\n", report.Path)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tKIND\tRESULT")
	for _, member := range report.Members {
		result := colorize(ansiGreen, "ok")
		if member.Err != "" {
			result = colorize(ansiRed, member.Err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", member.Name, member.Kind, result)
	}
	w.Flush()
}

// PrintBackupList renders available backups.
func PrintBackupList(infos []BackupInfo) {
	if len(infos) == 0 {
		fmt.Println("No backups found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tENVIRONMENT\tVOLUMES")
	for _, info := range infos {
		created := ""
		if !info.CreatedAt.IsZero() {
			created = info.CreatedAt.Format("2006-01-02 15:04:05 UTC")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", info.Name, created, info.Environment, len(info.Volumes))
	}
	w.Flush()
}

// Successf prints a green success line.
func Successf(format string, args ...any) {
	fmt.Printf("%s %s\n", colorize(ansiGreen, "OK"), fmt.Sprintf(format, args...))
}

// Infof prints a neutral informational line.
func Infof(format string, args ...any) {
	fmt.Printf("%s %s\n", colorize(ansiCyan, "::"), fmt.Sprintf(format, args...))
}

// Failf prints an error to stderr and exits non-zero.
func Failf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiRed, "Error:"), fmt.Sprintf(format, args...))
	os.Exit(CLIExitError)
}
