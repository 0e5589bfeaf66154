package config

import "github.com/AliverAnme/bindiff/pkg/outwriter"

// FilterReport drops any function match below cfg.MinConfidenceToReport,
// leaving the unmatched-function lists untouched (those carry no
// confidence score to filter by).
func (cfg *EngineConfig) FilterReport(report *outwriter.Report) *outwriter.Report {
	if cfg.MinConfidenceToReport <= 0 {
		return report
	}
	kept := make([]outwriter.FunctionMatch, 0, len(report.Functions))
	for _, fn := range report.Functions {
		if fn.Confidence >= cfg.MinConfidenceToReport {
			kept = append(kept, fn)
		}
	}
	filtered := *report
	filtered.Functions = kept
	return &filtered
}
