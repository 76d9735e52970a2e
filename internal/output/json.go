package output

import (
	"encoding/json"
	"io"

	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Report captures JSON output schema. List mode fills Workflows and Plans;
// run mode fills Runs and Summary.
type Report struct {
	Provider  string                  `json:"provider"`
	Workflows []provider.Workflow     `json:"workflows,omitempty"`
	Plans     map[string][][]string   `json:"plans,omitempty"`
	Runs      []report.PipelineResult `json:"runs,omitempty"`
	Summary   *report.Summary         `json:"summary,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// Render encodes the report as JSON.
func (j *JSONRenderer) Render(report Report) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
