package outwriter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Writer renders a Report to some destination. Write is called once per
// completed matching run; implementations must not retain report beyond
// the call.
type Writer interface {
	Write(report *Report) error
}

// ChainWriter runs a list of Writers in order against the same report,
// stopping at and returning the first error, mirroring the original
// implementation's ChainWriter::Write (each sub-writer runs in turn; the
// first failure aborts the chain rather than attempting the rest).
type ChainWriter struct {
	writers []Writer
}

// NewChainWriter returns a ChainWriter with no writers attached.
func NewChainWriter() *ChainWriter {
	return &ChainWriter{}
}

// Add appends w to the chain.
func (c *ChainWriter) Add(w Writer) {
	c.writers = append(c.writers, w)
}

// Empty reports whether no writers have been added.
func (c *ChainWriter) Empty() bool { return len(c.writers) == 0 }

// Write runs every writer in the chain against report, in the order they
// were added, stopping at the first error.
func (c *ChainWriter) Write(report *Report) error {
	for _, w := range c.writers {
		if err := w.Write(report); err != nil {
			return fmt.Errorf("outwriter: %w", err)
		}
	}
	return nil
}

// JSONWriter writes the report as indented JSON to w.
type JSONWriter struct {
	w io.Writer
}

// NewJSONWriter returns a JSONWriter writing to w.
func NewJSONWriter(w io.Writer) *JSONWriter { return &JSONWriter{w: w} }

func (j *JSONWriter) Write(report *Report) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// YAMLWriter writes the report as YAML to w, for the same config-shaped
// consumers pkg/config already serves with gopkg.in/yaml.v2.
type YAMLWriter struct {
	w io.Writer
}

// NewYAMLWriter returns a YAMLWriter writing to w.
func NewYAMLWriter(w io.Writer) *YAMLWriter { return &YAMLWriter{w: w} }

func (y *YAMLWriter) Write(report *Report) error {
	b, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	_, err = y.w.Write(b)
	return err
}

// CSVWriter writes one row per function match to w: primary and secondary
// address/name, the discriminator that produced the match, and its
// confidence/similarity and match counts. It does not emit the unmatched
// function lists; callers that need those should pair it with a JSONWriter
// or YAMLWriter.
type CSVWriter struct {
	w io.Writer
}

// NewCSVWriter returns a CSVWriter writing to w.
func NewCSVWriter(w io.Writer) *CSVWriter { return &CSVWriter{w: w} }

func (c *CSVWriter) Write(report *Report) error {
	cw := csv.NewWriter(c.w)
	header := []string{
		"primary_address", "primary_name",
		"secondary_address", "secondary_name",
		"matched_by", "confidence", "similarity",
		"basic_blocks_matched", "basic_blocks_total", "instructions_matched",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, fn := range report.Functions {
		var instructionsMatched int
		for _, bb := range fn.BasicBlockMatches {
			instructionsMatched += len(bb.InstructionMatches)
		}
		row := []string{
			strconv.FormatUint(fn.PrimaryAddress, 16),
			fn.PrimaryName,
			strconv.FormatUint(fn.SecondaryAddress, 16),
			fn.SecondaryName,
			fn.MatchedBy,
			strconv.FormatFloat(fn.Confidence, 'f', 4, 64),
			strconv.FormatFloat(fn.Similarity, 'f', 4, 64),
			strconv.Itoa(len(fn.BasicBlockMatches)),
			strconv.Itoa(fn.BasicBlocksTotal),
			strconv.Itoa(instructionsMatched),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
