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
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// ScoreWeights are the per-dimension weights of the overall score.
type ScoreWeights struct {
	Layout     float64 `yaml:"layout" validate:"gte=0,lte=1"`
	Style      float64 `yaml:"style" validate:"gte=0,lte=1"`
	A11y       float64 `yaml:"a11y" validate:"gte=0,lte=1"`
	Perceptual float64 `yaml:"perceptual" validate:"gte=0,lte=1"`
}

// Config holds the refinement engine's tunables.
type Config struct {
	// Epsilon is the minimum overall-score improvement an acceptance needs.
	// Default: 0.01
	Epsilon float64 `yaml:"epsilon" validate:"gt=0,lt=1"`

	// Weights combine the four score dimensions into the overall score.
	Weights ScoreWeights `yaml:"weights"`

	// MaxConsecutiveRejections stops the run after this many rejections in
	// a row. Default: 3
	MaxConsecutiveRejections int `yaml:"maxConsecutiveRejections" validate:"gte=1"`

	// PlateauWindow is how many trailing accepted scores the plateau check
	// considers. Default: 3
	PlateauWindow int `yaml:"plateauWindow" validate:"gte=2"`

	// PlateauThreshold is the accepted-score spread below which the run has
	// plateaued. Default: 0.01
	PlateauThreshold float64 `yaml:"plateauThreshold" validate:"gt=0"`

	// TimeBudget bounds a run's wall-clock time. Default: 15m
	TimeBudget time.Duration `yaml:"timeBudget" validate:"gt=0"`

	// LockLayoutThreshold: nodes lock once 1-layout is at or under this.
	// Default: 0.15
	LockLayoutThreshold float64 `yaml:"lockLayoutThreshold" validate:"gt=0,lt=1"`

	// LockStyleThreshold: nodes lock once 1-style is at or under this.
	// Default: 0.15
	LockStyleThreshold float64 `yaml:"lockStyleThreshold" validate:"gt=0,lt=1"`

	// TopTargets is how many unlocked nodes a patch plan names. Default: 3
	TopTargets int `yaml:"topTargets" validate:"gte=1"`

	// MaxFilesChanged / MaxLinesChanged / MaxStructureChanges are the per-
	// iteration change budgets handed to the code-gen provider.
	// Defaults: 2 / 80 / 1
	MaxFilesChanged     int `yaml:"maxFilesChanged" validate:"gte=1"`
	MaxLinesChanged     int `yaml:"maxLinesChanged" validate:"gte=1"`
	MaxStructureChanges int `yaml:"maxStructureChanges" validate:"gte=0"`

	// DisallowedChanges lists change classes the code-gen provider must not
	// make. Default: routing, dependencies, global styles.
	DisallowedChanges []string `yaml:"disallowedChanges"`

	// PreviewReadyTimeout bounds waiting for the dev server. Default: 120s
	PreviewReadyTimeout time.Duration `yaml:"previewReadyTimeout" validate:"gt=0"`

	// RouteWarmTimeout bounds warming the target route. Default: 30s
	RouteWarmTimeout time.Duration `yaml:"routeWarmTimeout" validate:"gt=0"`

	// RecompileSettle is the pause after a successful warm-up for in-place
	// recompilation to finish. Default: 1.5s
	RecompileSettle time.Duration `yaml:"recompileSettle"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon: 0.01,
		Weights: ScoreWeights{
			Layout:     0.3,
			Style:      0.3,
			A11y:       0.2,
			Perceptual: 0.2,
		},
		MaxConsecutiveRejections: 3,
		PlateauWindow:            3,
		PlateauThreshold:         0.01,
		TimeBudget:               15 * time.Minute,
		LockLayoutThreshold:      0.15,
		LockStyleThreshold:       0.15,
		TopTargets:               3,
		MaxFilesChanged:          2,
		MaxLinesChanged:          80,
		MaxStructureChanges:      1,
		DisallowedChanges:        []string{"routing", "dependencies", "global styles"},
		PreviewReadyTimeout:      120 * time.Second,
		RouteWarmTimeout:         30 * time.Second,
		RecompileSettle:          1500 * time.Millisecond,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// fileConfig is the YAML shape of a config file. Durations are strings in
// time.ParseDuration form ("15m", "90s"); absent fields keep their
// defaults.
type fileConfig struct {
	Epsilon                  *float64      `yaml:"epsilon"`
	Weights                  *ScoreWeights `yaml:"weights"`
	MaxConsecutiveRejections *int          `yaml:"maxConsecutiveRejections"`
	PlateauWindow            *int          `yaml:"plateauWindow"`
	PlateauThreshold         *float64      `yaml:"plateauThreshold"`
	TimeBudget               *string       `yaml:"timeBudget"`
	LockLayoutThreshold      *float64      `yaml:"lockLayoutThreshold"`
	LockStyleThreshold       *float64      `yaml:"lockStyleThreshold"`
	TopTargets               *int          `yaml:"topTargets"`
	MaxFilesChanged          *int          `yaml:"maxFilesChanged"`
	MaxLinesChanged          *int          `yaml:"maxLinesChanged"`
	MaxStructureChanges      *int          `yaml:"maxStructureChanges"`
	DisallowedChanges        []string      `yaml:"disallowedChanges"`
	PreviewReadyTimeout      *string       `yaml:"previewReadyTimeout"`
	RouteWarmTimeout         *string       `yaml:"routeWarmTimeout"`
	RecompileSettle          *string       `yaml:"recompileSettle"`
}

// LoadConfig reads a YAML config file over the defaults and validates the
// result. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := file.applyTo(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// applyTo overlays the file's present fields onto cfg.
func (f *fileConfig) applyTo(cfg *Config) error {
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		parsed, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", *src, err)
		}
		*dst = parsed
		return nil
	}

	setFloat(&cfg.Epsilon, f.Epsilon)
	if f.Weights != nil {
		cfg.Weights = *f.Weights
	}
	setInt(&cfg.MaxConsecutiveRejections, f.MaxConsecutiveRejections)
	setInt(&cfg.PlateauWindow, f.PlateauWindow)
	setFloat(&cfg.PlateauThreshold, f.PlateauThreshold)
	setFloat(&cfg.LockLayoutThreshold, f.LockLayoutThreshold)
	setFloat(&cfg.LockStyleThreshold, f.LockStyleThreshold)
	setInt(&cfg.TopTargets, f.TopTargets)
	setInt(&cfg.MaxFilesChanged, f.MaxFilesChanged)
	setInt(&cfg.MaxLinesChanged, f.MaxLinesChanged)
	setInt(&cfg.MaxStructureChanges, f.MaxStructureChanges)
	if f.DisallowedChanges != nil {
		cfg.DisallowedChanges = f.DisallowedChanges
	}
	if err := setDuration(&cfg.TimeBudget, f.TimeBudget); err != nil {
		return err
	}
	if err := setDuration(&cfg.PreviewReadyTimeout, f.PreviewReadyTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.RouteWarmTimeout, f.RouteWarmTimeout); err != nil {
		return err
	}
	return setDuration(&cfg.RecompileSettle, f.RecompileSettle)
}
