// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestDefaultManagerRunInDirCapturesOutput(t *testing.T) {
	pm := NewDefaultManager()
	ctx := context.Background()

	stdout, stderr, code, err := pm.RunInDir(ctx, "", nil, "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("RunInDir failed: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if strings.TrimSpace(stdout) != "out" {
		t.Errorf("expected stdout %q, got %q", "out", stdout)
	}
	if strings.TrimSpace(stderr) != "err" {
		t.Errorf("expected stderr %q, got %q", "err", stderr)
	}
}

func TestDefaultManagerRunInDirNonZeroExit(t *testing.T) {
	pm := NewDefaultManager()

	_, _, code, err := pm.RunInDir(context.Background(), "", nil, "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
}

func TestDefaultManagerRunInDirHonorsWorkingDirectory(t *testing.T) {
	pm := NewDefaultManager()
	dir := t.TempDir()

	stdout, _, _, err := pm.RunInDir(context.Background(), dir, nil, "pwd")
	if err != nil {
		t.Fatalf("RunInDir failed: %v", err)
	}
	if strings.TrimSpace(stdout) != dir {
		t.Errorf("expected pwd %q, got %q", dir, stdout)
	}
}

func TestDefaultManagerRunInDirAppendsEnv(t *testing.T) {
	pm := NewDefaultManager()

	stdout, _, _, err := pm.RunInDir(context.Background(), "", []string{"NTRIP_TEST_VAR=layered"},
		"sh", "-c", "echo $NTRIP_TEST_VAR")
	if err != nil {
		t.Fatalf("RunInDir failed: %v", err)
	}
	if strings.TrimSpace(stdout) != "layered" {
		t.Errorf("expected env passthrough, got %q", stdout)
	}
}

func TestDefaultManagerRunStreaming(t *testing.T) {
	pm := NewDefaultManager()
	var buf bytes.Buffer

	err := pm.RunStreaming(context.Background(), "", nil, &buf, "sh", "-c", "echo streamed")
	if err != nil {
		t.Fatalf("RunStreaming failed: %v", err)
	}
	if !strings.Contains(buf.String(), "streamed") {
		t.Errorf("expected streamed output, got %q", buf.String())
	}
}

func TestDefaultManagerRunStreamingCancellation(t *testing.T) {
	pm := NewDefaultManager()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- pm.RunStreaming(ctx, "", nil, &bytes.Buffer{}, "sh", "-c", "sleep 30")
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunStreaming did not return after cancellation")
	}
}

func TestMockManagerRecordsCalls(t *testing.T) {
	mock := &MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "ok", "", 0, nil
		},
	}

	_, _, _, err := mock.RunInDir(context.Background(), "/deploy", nil, "docker", "compose", "ps")
	if err != nil {
		t.Fatalf("mock RunInDir failed: %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(calls))
	}
	if calls[0].Method != "RunInDir" || calls[0].Name != "docker" {
		t.Errorf("unexpected call record: %+v", calls[0])
	}
	if calls[0].Dir != "/deploy" {
		t.Errorf("expected dir /deploy, got %q", calls[0].Dir)
	}

	mock.Reset()
	if len(mock.GetCalls()) != 0 {
		t.Error("Reset did not clear recorded calls")
	}
}
