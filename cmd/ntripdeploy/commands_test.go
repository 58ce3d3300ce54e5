// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"reflect"
	"testing"
)

func resetGlobalFlags(t *testing.T) {
	t.Cleanup(func() {
		flagEnvironment = ""
		flagProfiles = ""
		flagProfile = nil
	})
}

func TestEnvAliasAndRepeatableProfile(t *testing.T) {
	resetGlobalFlags(t)

	flags := rootCmd.PersistentFlags()
	err := flags.Parse([]string{"--env", "production", "--profile", "nginx", "--profile", "monitoring"})
	if err != nil {
		t.Fatalf("flag parse failed: %v", err)
	}

	if flagEnvironment != "production" {
		t.Errorf("--env should set the environment, got %q", flagEnvironment)
	}

	got := ParseProfiles(combinedProfiles())
	want := ProfileSet{"nginx", "monitoring"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("profiles = %v, want %v", got, want)
	}
}

func TestCombinedProfilesMergesBothSpellings(t *testing.T) {
	resetGlobalFlags(t)

	flagProfiles = "nginx,monitoring"
	flagProfile = []string{"monitoring", "proxy"}

	got := ParseProfiles(combinedProfiles())
	want := ProfileSet{"nginx", "monitoring", "proxy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merged profiles = %v, want %v", got, want)
	}
}
