// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the jitbench YAML configuration.
//
// A missing file at the default location means defaults. A file given
// explicitly must exist. Values in the file are applied over the defaults,
// so a file only needs the sections it changes; a jobs list in the file
// replaces the default jobs entirely.
//
// Example file:
//
//	jobs:
//	  - id: go-default
//	    env: {GOGC: "100"}
//	  - id: gc-off
//	    env: {GOGC: "off"}
//	  - id: next
//	    runtime: ~/bin/jitbench-go1.26
//	    env_file: next.env
//	engine:
//	  batches: 30
//	run:
//	  parallelism: 1
//	  format: markdown
//	history:
//	  enabled: true
//	  path: ~/.jitbench/history
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/jitbench/pkg/logging"
	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/engine"
	"github.com/AleutianAI/jitbench/services/harness/history"
	"github.com/AleutianAI/jitbench/services/harness/server"
	"github.com/AleutianAI/jitbench/services/harness/telemetry"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.jitbench/config.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the complete CLI configuration.
type Config struct {
	// Jobs are compared side by side; the first is the baseline.
	Jobs []harness.JobConfig `yaml:"jobs" validate:"required,min=1"`

	// Engine tunes warm-up, batching and measurement.
	Engine engine.Config `yaml:"engine"`

	Run       RunConfig        `yaml:"run"`
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	History   HistoryConfig    `yaml:"history"`
	Server    server.Config    `yaml:"server"`
}

// RunConfig holds the `jitbench run` defaults that flags override.
type RunConfig struct {
	// Filter is a regular expression over case names.
	Filter string `yaml:"filter"`

	// Parallelism is the number of jobs run at once.
	Parallelism int `yaml:"parallelism" validate:"gte=1"`

	// Timeout aborts the remaining series. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// Format is the report format.
	Format string `yaml:"format" validate:"oneof=console json markdown md"`

	// Columns is a comma-separated column list; empty uses the defaults.
	Columns string `yaml:"columns"`

	// Verbose adds the dispersion columns.
	Verbose bool `yaml:"verbose"`

	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string `yaml:"metrics_file"`
}

// HistoryConfig stores finished runs.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	history.Config `yaml:",inline"`
}

// DefaultConfig returns the built-in two-job comparison: the default
// collector against a run with the collector switched off.
func DefaultConfig() *Config {
	hist := history.DefaultConfig("~/.jitbench/history")
	return &Config{
		Jobs: []harness.JobConfig{
			{ID: "go-default", Env: map[string]string{"GOGC": "100"}},
			{ID: "gc-off", Env: map[string]string{"GOGC": "off"}},
		},
		Engine: *engine.DefaultConfig(),
		Run: RunConfig{
			Parallelism: 1,
			Format:      "console",
		},
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "jitbench",
		},
		Telemetry: telemetry.DefaultConfig(),
		History:   HistoryConfig{Enabled: true, Config: hist},
		Server:    server.DefaultConfig(),
	}
}

// Load reads the configuration at path.
//
// Inputs:
//   - path: File to read. Empty reads DefaultPath, where a missing file
//     yields DefaultConfig.
//
// Outputs:
//   - *Config: The validated configuration with ~ expanded and relative
//     env_file paths resolved against the file's directory.
//   - error: Read, parse or ErrInvalidConfig errors.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	path = logging.ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.expand("")
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expand(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expand resolves ~ and relative env_file paths.
func (c *Config) expand(baseDir string) {
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if !j.IsSelf() {
			j.Runtime = logging.ExpandPath(j.Runtime)
		}
		if j.EnvFile != "" {
			j.EnvFile = logging.ExpandPath(j.EnvFile)
			if baseDir != "" && !filepath.IsAbs(j.EnvFile) {
				j.EnvFile = filepath.Join(baseDir, j.EnvFile)
			}
		}
	}
	c.History.Path = logging.ExpandPath(c.History.Path)
	c.Logging.LogDir = logging.ExpandPath(c.Logging.LogDir)
	c.Run.MetricsFile = logging.ExpandPath(c.Run.MetricsFile)
}

// Validate checks struct tags, engine bounds and the job set.
//
// Outputs:
//   - error: Every problem joined and wrapped with ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.JobSet().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.History.Enabled && c.History.Path == "" && !c.History.InMemory {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// JobSet returns the configured jobs as a harness.JobSet.
func (c *Config) JobSet() *harness.JobSet {
	return harness.NewJobSet(c.Jobs...)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
