// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

type DeployConfig struct {
	// Deployment: where the caster stack lives on this host
	Deployment DeploymentConfig `yaml:"deployment"`

	// Engine: container orchestration engine settings
	Engine EngineConfig `yaml:"engine"`

	// Health: verification polling behavior
	Health HealthConfig `yaml:"health"`

	// Backup: archive location and retention
	Backup BackupConfig `yaml:"backup"`
}

type DeploymentConfig struct {
	Root        string `yaml:"root" validate:"required"`         // e.g. /srv/ntripcaster
	ProjectName string `yaml:"project_name" validate:"required"` // e.g. ntripcaster
	Service     string `yaml:"service" validate:"required"`      // primary compose service name
	NtripPort   int    `yaml:"ntrip_port" validate:"min=1,max=65535"`
	WebPort     int    `yaml:"web_port" validate:"min=1,max=65535"`
}

type EngineConfig struct {
	// Binary is the engine executable, resolvable on PATH.
	Binary string `yaml:"binary" validate:"required"`

	// TimeoutSeconds bounds buffered engine invocations.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1"`
}

type HealthConfig struct {
	MaxAttempts     int `yaml:"max_attempts" validate:"min=1"`
	IntervalSeconds int `yaml:"interval_seconds" validate:"min=1"`
}

type BackupConfig struct {
	// Dir is the backup archive directory, relative to the deploy root
	// unless absolute.
	Dir string `yaml:"dir" validate:"required"`

	// Volumes are the named volumes snapshotted on backup.
	Volumes []string `yaml:"volumes"`
}

func DefaultConfig() DeployConfig {
	return DeployConfig{
		Deployment: DeploymentConfig{
			Root:        "/srv/ntripcaster",
			ProjectName: "ntripcaster",
			Service:     "ntripcaster",
			NtripPort:   2101,
			WebPort:     5757,
		},
		Engine: EngineConfig{
			Binary:         "docker",
			TimeoutSeconds: 300,
		},
		Health: HealthConfig{
			MaxAttempts:     30,
			IntervalSeconds: 2,
		},
		Backup: BackupConfig{
			Dir:     "backup",
			Volumes: []string{"ntrip-data", "ntrip-logs", "ntrip-config"},
		},
	}
}
