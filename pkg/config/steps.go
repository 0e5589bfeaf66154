package config

import (
	"github.com/AliverAnme/bindiff/pkg/matching"
)

// overriddenFunctionStep wraps a matching.FunctionStep to replace its
// Confidence() with an override, leaving Name/DisplayName/Key untouched.
type overriddenFunctionStep struct {
	matching.FunctionStep
	confidence float64
}

func (s overriddenFunctionStep) Confidence() float64 { return s.confidence }

type overriddenBasicBlockStep struct {
	matching.BasicBlockStep
	confidence float64
}

func (s overriddenBasicBlockStep) Confidence() float64 { return s.confidence }

// ApplyFunctionSteps filters and re-confidences steps according to
// cfg.FunctionSteps, preserving the catalog's cascade order (disabling a
// step removes it from the slice; it does not reorder the rest).
func (cfg *EngineConfig) ApplyFunctionSteps(steps []matching.FunctionStep) []matching.FunctionStep {
	if len(cfg.FunctionSteps) == 0 {
		return steps
	}
	out := make([]matching.FunctionStep, 0, len(steps))
	for _, step := range steps {
		override, ok := cfg.FunctionSteps[step.Name()]
		if !ok {
			out = append(out, step)
			continue
		}
		if override.Enabled != nil && !*override.Enabled {
			continue
		}
		if override.Confidence != nil {
			step = overriddenFunctionStep{FunctionStep: step, confidence: *override.Confidence}
		}
		out = append(out, step)
	}
	return out
}

// ApplyBasicBlockSteps is ApplyFunctionSteps for the basic-block catalog.
func (cfg *EngineConfig) ApplyBasicBlockSteps(steps []matching.BasicBlockStep) []matching.BasicBlockStep {
	if len(cfg.BasicBlockSteps) == 0 {
		return steps
	}
	out := make([]matching.BasicBlockStep, 0, len(steps))
	for _, step := range steps {
		override, ok := cfg.BasicBlockSteps[step.Name()]
		if !ok {
			out = append(out, step)
			continue
		}
		if override.Enabled != nil && !*override.Enabled {
			continue
		}
		if override.Confidence != nil {
			step = overriddenBasicBlockStep{BasicBlockStep: step, confidence: *override.Confidence}
		}
		out = append(out, step)
	}
	return out
}
