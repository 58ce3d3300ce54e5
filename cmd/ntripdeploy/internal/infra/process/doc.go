// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process provides abstractions for external process execution and
inter-process synchronization.

# Overview

This package contains two main components:

  - Manager: Abstracts external process execution for testability
  - Locker: File-based locking to prevent concurrent mutating CLI instances

# Manager

Manager enables testable interaction with the operating system's process
management capabilities. All exec.Command calls in the deployment code go
through this interface so unit tests can run against mocks instead of a
real Docker daemon.

	pm := process.NewDefaultManager()
	stdout, stderr, code, err := pm.RunInDir(ctx, deployRoot, nil, "docker", "info")
	if err != nil {
	    return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	_ = stdout
	_ = stderr
	_ = code

For testing, use MockManager:

	mock := &process.MockManager{
	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	        return "mock output", "", 0, nil
	    },
	}

# Locker

Locker prevents two ntripdeploy invocations from mutating the same
deployment at once (e.g. a restore racing a start). It uses flock(2)
advisory locking on a file under the deploy root.

	lock := process.NewFileLock(process.DefaultLockConfig(deployRoot))
	if err := lock.Acquire(); err != nil {
	    fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	    os.Exit(1)
	}
	defer lock.Release()

# Thread Safety

  - Manager implementations are safe for concurrent use
  - Locker is NOT safe for concurrent use from multiple goroutines

# Limitations

  - Locker uses advisory locks; processes that do not check are not excluded
  - Locker requires OS support for flock(2)
*/
package process
