// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Epsilon != 0.01 {
		t.Errorf("Epsilon = %v, want 0.01", cfg.Epsilon)
	}
	if cfg.TimeBudget != 15*time.Minute {
		t.Errorf("TimeBudget = %v, want 15m", cfg.TimeBudget)
	}
	if cfg.Weights.Layout != 0.3 || cfg.Weights.Perceptual != 0.2 {
		t.Errorf("Weights = %+v", cfg.Weights)
	}
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := writeConfig(t, `
epsilon: 0.02
timeBudget: 5m
routeWarmTimeout: 10s
maxConsecutiveRejections: 5
disallowedChanges: [routing]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Epsilon != 0.02 {
		t.Errorf("Epsilon = %v", cfg.Epsilon)
	}
	if cfg.TimeBudget != 5*time.Minute {
		t.Errorf("TimeBudget = %v", cfg.TimeBudget)
	}
	if cfg.RouteWarmTimeout != 10*time.Second {
		t.Errorf("RouteWarmTimeout = %v", cfg.RouteWarmTimeout)
	}
	if cfg.MaxConsecutiveRejections != 5 {
		t.Errorf("MaxConsecutiveRejections = %v", cfg.MaxConsecutiveRejections)
	}
	if len(cfg.DisallowedChanges) != 1 || cfg.DisallowedChanges[0] != "routing" {
		t.Errorf("DisallowedChanges = %v", cfg.DisallowedChanges)
	}
	// Untouched fields keep their defaults.
	if cfg.PlateauWindow != 3 {
		t.Errorf("PlateauWindow = %v, want default 3", cfg.PlateauWindow)
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, "timeBudget: fifteen minutes\n")
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfig_ValidationRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "epsilon: 2.0\n")
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}
