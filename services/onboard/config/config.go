// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the onboarding service configuration: embedded
// defaults, optional YAML overrides, then environment overrides, in that
// order.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfigYAML []byte

// Config is the full service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Memory   MemoryConfig   `yaml:"memory"`
	Resolve  ResolveConfig  `yaml:"resolve"`
	Source   SourceConfig   `yaml:"source"`
	Research ResearchConfig `yaml:"research"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the listen port for the API, webhooks, and demo portal.
	Port int `yaml:"port"`
	// DataDir is where the mapping memory database lives. Empty means
	// in-memory, which is only useful for tests.
	DataDir string `yaml:"data_dir"`
}

// MemoryConfig tunes the similarity memory.
type MemoryConfig struct {
	// DistanceThreshold is the maximum cosine distance for a memory hit.
	// The boundary itself is a hit.
	DistanceThreshold float64 `yaml:"distance_threshold"`
	// LowUsePenalty is added to the distance of mappings used fewer than
	// MinVerifiedUses times.
	LowUsePenalty float64 `yaml:"low_use_penalty"`
	// MinVerifiedUses is the use count at which a mapping is trusted
	// without penalty.
	MinVerifiedUses int `yaml:"min_verified_uses"`
}

// ResolveConfig tunes the human resolution protocol.
type ResolveConfig struct {
	// OperatorNumber is the phone number to call with mapping questions.
	OperatorNumber string `yaml:"operator_number"`
	// RetryCeiling is the unclear rounds tolerated per question before
	// forced confirmation.
	RetryCeiling int `yaml:"retry_ceiling"`
	// ConfidenceFloor is the minimum speech transcription confidence.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// QuestionWindowSeconds is the per-question no-input window.
	QuestionWindowSeconds int `yaml:"question_window_seconds"`
	// SessionTimeoutSeconds bounds one resolution call.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds"`
	// Simulate replaces the telephony carrier with the built-in
	// auto-answering simulator.
	Simulate bool `yaml:"simulate"`
}

// SourceConfig tunes data acquisition.
type SourceConfig struct {
	// PortalURLTemplate is the client portal export URL with one %s for
	// the client slug. Empty disables the portal source; bundled
	// fixtures serve instead.
	PortalURLTemplate string `yaml:"portal_url_template"`
}

// ResearchConfig tunes the optional column research engine.
type ResearchConfig struct {
	// Enabled turns web research for cryptic column names on.
	Enabled bool `yaml:"enabled"`
}

// QuestionWindow returns the no-input window as a duration.
func (c ResolveConfig) QuestionWindow() time.Duration {
	return time.Duration(c.QuestionWindowSeconds) * time.Second
}

// SessionTimeout returns the session bound as a duration.
func (c ResolveConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// Load builds the configuration.
//
// # Description
//
// Starts from the embedded defaults, overlays the YAML file at path when
// path is non-empty, then applies environment overrides. Validation runs
// on the final result.
//
// # Outputs
//
//   - *Config: the merged configuration. Never nil on a nil error.
//   - error: unreadable file, bad YAML, or a validation failure.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the environment overrides that operators actually
// change between deployments.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ONBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ONBOARD_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("ONBOARD_OPERATOR_NUMBER"); v != "" {
		cfg.Resolve.OperatorNumber = v
	}
	if v := os.Getenv("ONBOARD_SIMULATE_VOICE"); v != "" {
		if simulate, err := strconv.ParseBool(v); err == nil {
			cfg.Resolve.Simulate = simulate
		}
	}
	if v := os.Getenv("ONBOARD_PORTAL_URL_TEMPLATE"); v != "" {
		cfg.Source.PortalURLTemplate = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Memory.DistanceThreshold <= 0 || c.Memory.DistanceThreshold >= 2 {
		return fmt.Errorf("memory.distance_threshold %g out of range (0, 2)", c.Memory.DistanceThreshold)
	}
	if c.Memory.LowUsePenalty < 0 {
		return fmt.Errorf("memory.low_use_penalty must not be negative")
	}
	if c.Resolve.RetryCeiling < 1 {
		return fmt.Errorf("resolve.retry_ceiling must be at least 1")
	}
	if c.Resolve.ConfidenceFloor < 0 || c.Resolve.ConfidenceFloor > 1 {
		return fmt.Errorf("resolve.confidence_floor %g out of range [0, 1]", c.Resolve.ConfidenceFloor)
	}
	if c.Resolve.SessionTimeoutSeconds < 1 {
		return fmt.Errorf("resolve.session_timeout_seconds must be at least 1")
	}
	return nil
}
