// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearOnboardEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ONBOARD_PORT",
		"ONBOARD_DATA_DIR",
		"ONBOARD_OPERATOR_NUMBER",
		"ONBOARD_SIMULATE_VOICE",
		"ONBOARD_PORTAL_URL_TEMPLATE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	clearOnboardEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Memory.DistanceThreshold != 0.3 {
		t.Errorf("expected distance threshold 0.3, got %g", cfg.Memory.DistanceThreshold)
	}
	if cfg.Memory.LowUsePenalty != 0.01 || cfg.Memory.MinVerifiedUses != 2 {
		t.Errorf("unexpected memory defaults: %+v", cfg.Memory)
	}
	if cfg.Resolve.RetryCeiling != 2 || cfg.Resolve.ConfidenceFloor != 0.4 {
		t.Errorf("unexpected resolve defaults: %+v", cfg.Resolve)
	}
	if !cfg.Resolve.Simulate {
		t.Error("expected voice simulation on by default")
	}
	if cfg.Resolve.QuestionWindow() != 15*time.Second {
		t.Errorf("expected 15s question window, got %v", cfg.Resolve.QuestionWindow())
	}
	if cfg.Resolve.SessionTimeout() != 60*time.Second {
		t.Errorf("expected 60s session timeout, got %v", cfg.Resolve.SessionTimeout())
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	clearOnboardEnv(t)

	path := filepath.Join(t.TempDir(), "onboard.yaml")
	overlay := "server:\n  port: 9090\nresolve:\n  retry_ceiling: 4\n"
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatalf("writing overlay: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected overlaid port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Resolve.RetryCeiling != 4 {
		t.Errorf("expected overlaid retry ceiling 4, got %d", cfg.Resolve.RetryCeiling)
	}
	// Untouched keys keep defaults.
	if cfg.Memory.DistanceThreshold != 0.3 {
		t.Errorf("expected default threshold preserved, got %g", cfg.Memory.DistanceThreshold)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearOnboardEnv(t)

	path := filepath.Join(t.TempDir(), "onboard.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatalf("writing overlay: %v", err)
	}
	t.Setenv("ONBOARD_PORT", "7070")
	t.Setenv("ONBOARD_OPERATOR_NUMBER", "+15551234567")
	t.Setenv("ONBOARD_SIMULATE_VOICE", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070 to win, got %d", cfg.Server.Port)
	}
	if cfg.Resolve.OperatorNumber != "+15551234567" {
		t.Errorf("expected operator number from env, got %q", cfg.Resolve.OperatorNumber)
	}
	if cfg.Resolve.Simulate {
		t.Error("expected simulation disabled via env")
	}
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	clearOnboardEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	clearOnboardEnv(t)

	cases := []struct {
		name    string
		overlay string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"zero threshold", "memory:\n  distance_threshold: 0\n"},
		{"negative penalty", "memory:\n  low_use_penalty: -0.5\n"},
		{"zero retry ceiling", "resolve:\n  retry_ceiling: 0\n"},
		{"confidence floor above one", "resolve:\n  confidence_floor: 1.5\n"},
		{"zero session timeout", "resolve:\n  session_timeout_seconds: 0\n"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(tc.overlay), 0o644); err != nil {
			t.Fatalf("%s: writing overlay: %v", tc.name, err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
