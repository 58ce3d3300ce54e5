// Copyright (C) 2025 2RTK (i@jia.by)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// Environment identifies a deployment environment tier.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// environmentAliases maps accepted short forms to canonical environments.
var environmentAliases = map[string]Environment{
	"development": EnvDevelopment,
	"dev":         EnvDevelopment,
	"testing":     EnvTesting,
	"test":        EnvTesting,
	"production":  EnvProduction,
	"prod":        EnvProduction,
}

// ParseEnvironment canonicalizes an environment name.
//
// # Description
//
// Accepts canonical names and common short forms, case-insensitively.
// An unrecognized name is coerced to development and reported through
// exactly one warning string so the caller can surface it once; coercion
// never fails the run.
//
// # Inputs
//
//   - raw: Environment name from flag or ENVIRONMENT variable ("" allowed)
//
// # Outputs
//
//   - Environment: Canonical environment (development on coercion)
//   - []string: Warnings emitted during parsing (at most one)
func ParseEnvironment(raw string) (Environment, []string) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return EnvDevelopment, nil
	}
	if env, ok := environmentAliases[name]; ok {
		return env, nil
	}
	warning := fmt.Sprintf("unknown environment %q, falling back to development", raw)
	return EnvDevelopment, []string{warning}
}

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

// ProfileSet is an ordered, duplicate-free list of compose profile names.
type ProfileSet []string

// ParseProfiles builds a ProfileSet from a comma-separated list.
//
// # Description
//
// Splits on commas, trims whitespace, drops empty entries, and removes
// duplicates while preserving first-occurrence order. Profile names are
// otherwise passed through unvalidated; the orchestration engine owns the
// set of known profiles and fails on unknown names at invocation time.
//
// # Examples
//
//	ParseProfiles("nginx, monitoring,nginx") // ["nginx", "monitoring"]
func ParseProfiles(raw string) ProfileSet {
	var set ProfileSet
	seen := make(map[string]bool)

	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		set = append(set, name)
	}
	return set
}

// String renders the set for display, "(none)" when empty.
func (p ProfileSet) String() string {
	if len(p) == 0 {
		return "(none)"
	}
	return strings.Join(p, ", ")
}

// -----------------------------------------------------------------------------
// Resolution
// -----------------------------------------------------------------------------

// environmentLayers maps each environment to its overlay file.
// The base layer always applies; testing runs on the base alone so CI
// exercises the stack exactly as declared.
var environmentLayers = map[Environment]string{
	EnvDevelopment: "docker-compose.override.yml",
	EnvTesting:     "",
	EnvProduction:  "docker-compose.prod.yml",
}

// baseLayer is the compose file every environment starts from.
const baseLayer = "docker-compose.yml"

// DeploymentContext is the single resolved description of one deployment.
//
// # Description
//
// Built once at CLI startup from flags, environment variables, and the
// config file, then passed to every component. Identical inputs always
// produce an identical context; resolution performs no I/O.
type DeploymentContext struct {
	// Environment is the canonical deployment environment.
	Environment Environment

	// Profiles are the requested compose profiles, ordered and deduplicated.
	Profiles ProfileSet

	// Layers are the ordered compose config files, base first.
	Layers []string

	// ProjectName is the unscoped project name from config.
	ProjectName string

	// ScopedName is the environment-scoped project name used for -p,
	// container name filters, and volume prefixes.
	ScopedName string

	// Debug enables verbose diagnostics.
	Debug bool

	// Warnings collected during resolution, surfaced once by the CLI.
	Warnings []string
}

// ResolveContext builds the DeploymentContext for one invocation.
//
// # Description
//
// Pure function over its inputs: canonicalizes the environment (collecting
// any coercion warning), parses the profile list, selects the config layer
// stack, and derives the scoped project name as <project>-<environment>.
//
// # Inputs
//
//   - projectName: Unscoped project name from config
//   - rawEnv: Environment name from flag or ENVIRONMENT variable
//   - rawProfiles: Comma-separated profile list from flag or PROFILES variable
//   - debug: Debug flag state
//
// # Outputs
//
//   - DeploymentContext: Fully resolved context, warnings included
//
// # Examples
//
//	ctx := ResolveContext("ntripcaster", "prod", "nginx,monitoring", false)
//	// ctx.Layers    = [docker-compose.yml docker-compose.prod.yml]
//	// ctx.ScopedName = "ntripcaster-production"
func ResolveContext(projectName, rawEnv, rawProfiles string, debug bool) DeploymentContext {
	env, warnings := ParseEnvironment(rawEnv)

	layers := []string{baseLayer}
	if overlay := environmentLayers[env]; overlay != "" {
		layers = append(layers, overlay)
	}

	return DeploymentContext{
		Environment: env,
		Profiles:    ParseProfiles(rawProfiles),
		Layers:      layers,
		ProjectName: projectName,
		ScopedName:  projectName + "-" + string(env),
		Debug:       debug,
		Warnings:    warnings,
	}
}
