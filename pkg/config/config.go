// Package config decodes the engine's YAML configuration: which matching
// steps run and at what confidence, the minimum confidence a match must
// carry to be reported, and how much parallelism a run is allowed to use.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/AliverAnme/bindiff/pkg/bderrors"
)

// StepOverride adjusts one matching step's behavior without touching its
// code: Enabled, if non-nil, can drop the step from the catalog entirely;
// Confidence, if non-nil, replaces the step's built-in confidence score.
type StepOverride struct {
	Enabled    *bool    `yaml:"enabled,omitempty"`
	Confidence *float64 `yaml:"confidence,omitempty"`
}

// EngineConfig is the full set of knobs a matching run accepts, keyed the
// same way DefaultFunctionSteps/DefaultBasicBlockSteps name their steps
// (e.g. "function: prime signature").
type EngineConfig struct {
	Parallelism           int     `yaml:"parallelism,omitempty"`
	MinConfidenceToReport  float64 `yaml:"min_confidence_to_report,omitempty"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold,omitempty"`

	FunctionSteps   map[string]StepOverride `yaml:"function_matching_steps,omitempty"`
	BasicBlockSteps map[string]StepOverride `yaml:"basic_block_matching_steps,omitempty"`
}

// DefaultEngineConfig returns the configuration a run uses when no YAML
// file is supplied: every step enabled at its built-in confidence,
// Parallelism 0 (one worker per GOMAXPROCS), and a reporting floor of 0
// (report everything).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SimilarityThreshold: 0.6,
	}
}

// Load decodes an EngineConfig from r, starting from DefaultEngineConfig
// so a YAML document only needs to specify the fields it wants to change.
func Load(r io.Reader) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: reading: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w: %v", bderrors.ErrMalformedInput, err)
	}
	if cfg.Parallelism < 0 {
		return nil, fmt.Errorf("config: parallelism must not be negative: %w", bderrors.ErrMalformedInput)
	}
	if cfg.MinConfidenceToReport < 0 || cfg.MinConfidenceToReport > 1 {
		return nil, fmt.Errorf("config: min_confidence_to_report must be within [0,1]: %w", bderrors.ErrMalformedInput)
	}
	return &cfg, nil
}
