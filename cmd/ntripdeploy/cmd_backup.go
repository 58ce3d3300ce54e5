// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

func runBackup(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	Infof("Backing up %s", a.deployCtx.ScopedName)

	report, err := a.backups.Backup(cmd.Context())
	if err != nil {
		Failf("backup failed: %v", err)
	}

	PrintBackupReport(report)
	if !report.Success {
		Failf("backup completed with failed members")
	}
	Successf("backup written to %s", report.Path)
}

func runRestore(cmd *cobra.Command, args []string) {
	a := newApp()
	a.acquireLock()
	defer a.lock.Release()

	name := args[0]
	Infof("Restoring %s from %s", a.deployCtx.ScopedName, name)

	report, err := a.backups.Restore(cmd.Context(), name)
	if report != nil {
		PrintBackupReport(report)
	}
	if err != nil {
		Failf("restore failed: %v", err)
	}
	Successf("restore complete, start the stack to resume service")
}

func runListBackups(cmd *cobra.Command, args []string) {
	a := newApp()

	infos, err := a.backups.List()
	if err != nil {
		Failf("failed to list backups: %v", err)
	}
	PrintBackupList(infos)
}
