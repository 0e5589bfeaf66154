package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliverAnme/bindiff/pkg/bderrors"
	"github.com/AliverAnme/bindiff/pkg/matching"
	"github.com/AliverAnme/bindiff/pkg/outwriter"
)

func TestLoadAppliesDefaultsWhenFieldsOmitted(t *testing.T) {
	cfg, err := Load(strings.NewReader(`parallelism: 4`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 0.6, cfg.SimilarityThreshold, "expected default similarity threshold to survive")
}

func TestLoadRejectsNegativeParallelism(t *testing.T) {
	_, err := Load(strings.NewReader(`parallelism: -1`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bderrors.ErrMalformedInput))
}

func TestLoadRejectsOutOfRangeConfidenceFloor(t *testing.T) {
	_, err := Load(strings.NewReader(`min_confidence_to_report: 1.5`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, bderrors.ErrMalformedInput))
}

func TestApplyFunctionStepsDisablesNamedStep(t *testing.T) {
	enabled := false
	cfg := &EngineConfig{FunctionSteps: map[string]StepOverride{
		"function: name hash": {Enabled: &enabled},
	}}
	filtered := cfg.ApplyFunctionSteps(matching.DefaultFunctionSteps())
	for _, step := range filtered {
		assert.NotEqual(t, "function: name hash", step.Name(), "expected the name-hash step to be disabled")
	}
}

func TestApplyFunctionStepsOverridesConfidence(t *testing.T) {
	want := 0.42
	cfg := &EngineConfig{FunctionSteps: map[string]StepOverride{
		"function: instruction count": {Confidence: &want},
	}}
	filtered := cfg.ApplyFunctionSteps(matching.DefaultFunctionSteps())
	found := false
	for _, step := range filtered {
		if step.Name() == "function: instruction count" {
			found = true
			assert.Equal(t, want, step.Confidence())
		}
	}
	assert.True(t, found, "expected the instruction-count step to still be present")
}

func TestFilterReportDropsLowConfidenceMatches(t *testing.T) {
	cfg := &EngineConfig{MinConfidenceToReport: 0.8}
	report := &outwriter.Report{Functions: []outwriter.FunctionMatch{
		{PrimaryAddress: 1, Confidence: 0.9},
		{PrimaryAddress: 2, Confidence: 0.5},
	}}
	filtered := cfg.FilterReport(report)
	require.Len(t, filtered.Functions, 1)
	assert.Equal(t, uint64(1), filtered.Functions[0].PrimaryAddress)
}
