package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/localci/internal/graph"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
)

// PrettyRenderer renders plans and results in a human-friendly format.
type PrettyRenderer struct {
	out io.Writer
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	return &PrettyRenderer{out: out}
}

// RenderList renders each workflow's jobs grouped by wave, with their steps.
func (p *PrettyRenderer) RenderList(workflows []provider.Workflow) error {
	var buf bytes.Buffer
	for _, wf := range workflows {
		fmt.Fprintf(&buf, "Workflow %s\n", decorateName(wf.Name, wf.Path))
		if len(wf.Triggers) > 0 {
			fmt.Fprintf(&buf, "  on: %s\n", describeTriggers(wf.Triggers))
		}
		g, err := graph.Build(wf.Jobs)
		if err != nil {
			fmt.Fprintf(&buf, "  invalid: %v\n", err)
			continue
		}
		for i, wave := range g.Waves() {
			fmt.Fprintf(&buf, "  Wave %d\n", i+1)
			for _, id := range wave {
				job, _ := g.Job(id)
				fmt.Fprintf(&buf, "    Job %s", job.DisplayName())
				if needs := g.Dependencies(id); len(needs) > 0 {
					fmt.Fprintf(&buf, " (needs %s)", strings.Join(needs, ", "))
				}
				buf.WriteString("\n")
				for _, step := range job.Steps {
					fmt.Fprintf(&buf, "      • %s\n", stepLabel(step.Name, step.Run, step.Uses))
				}
			}
		}
	}
	_, err := buf.WriteTo(p.out)
	return err
}

// RenderResults shows each pipeline's job and step outcomes, the first
// failure and an overall summary.
func (p *PrettyRenderer) RenderResults(results []report.PipelineResult) error {
	var buf bytes.Buffer
	for _, res := range results {
		fmt.Fprintf(&buf, "Workflow %s [%s]\n", decorateName(res.Workflow, res.WorkflowPath), res.Event)
		if !res.Triggered {
			fmt.Fprintf(&buf, "  - %s\n", res.Detail)
			continue
		}
		for _, job := range res.Jobs {
			fmt.Fprintf(&buf, "  %s Job %s (%s)", statusGlyph(job.Status), job.Name, formatDuration(job.Duration()))
			if job.Status != report.StatusSucceeded && job.Detail != "" {
				fmt.Fprintf(&buf, ": %s", job.Detail)
			}
			buf.WriteString("\n")
			for _, step := range job.Steps {
				writeStep(&buf, step)
			}
		}
		if job, step, ok := res.FirstFailure(); ok {
			fmt.Fprintf(&buf, "  FIRST FAILURE: job %s", job.ID)
			if step.Name != "" {
				fmt.Fprintf(&buf, ", step %s", step.Name)
			}
			fmt.Fprintf(&buf, " (%s)\n", firstNonEmpty(step.Detail, job.Detail))
		} else if res.Status == report.StatusFailed && res.Detail != "" {
			fmt.Fprintf(&buf, "  PIPELINE FAILED: %s\n", res.Detail)
		}
	}
	if _, err := buf.WriteTo(p.out); err != nil {
		return err
	}
	return p.RenderSummary(report.Combine(results))
}

// RenderSummary prints the one-line totals.
func (p *PrettyRenderer) RenderSummary(summary report.Summary) error {
	_, err := fmt.Fprintf(p.out, "SUMMARY: jobs %d passed, %d failed, %d skipped; steps %d passed, %d failed, %d skipped (%s)\n",
		summary.JobsPassed, summary.JobsFailed, summary.JobsSkipped,
		summary.Passed, summary.Failed, summary.Skipped,
		formatDuration(summary.Duration))
	return err
}

func writeStep(buf *bytes.Buffer, step report.StepResult) {
	fmt.Fprintf(buf, "    %s %s (%s)\n", statusGlyph(step.Status), stepLabel(step.Name, step.Run, step.Uses), formatDuration(step.Duration()))
	switch step.Status {
	case report.StatusFailed:
		if step.Run != "" {
			fmt.Fprintf(buf, "      command: %s\n", firstLine(step.Run))
		}
		if step.Detail != "" {
			fmt.Fprintf(buf, "      detail: %s\n", step.Detail)
		}
		if cleaned := cleanErrorOutput(step.Stdout + "\n" + step.Stderr); cleaned != "" {
			fmt.Fprintf(buf, "%s\n", indent(cleaned, "      "))
		}
	case report.StatusSkipped:
		if step.Detail != "" && step.Detail != report.DetailDryRun {
			fmt.Fprintf(buf, "      note: %s\n", step.Detail)
		}
		if step.Detail == report.DetailDryRun && step.Run != "" {
			fmt.Fprintf(buf, "      command: %s\n", firstLine(step.Run))
		}
	default:
		if step.Kind != provider.ActionRun && step.Detail != "" {
			fmt.Fprintf(buf, "      %s\n", step.Detail)
		}
	}
}

func describeTriggers(rules []provider.TriggerRule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.AllBranches {
			parts = append(parts, r.Event)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s [%s]", r.Event, strings.Join(r.Branches, ", ")))
	}
	return strings.Join(parts, "; ")
}

func stepLabel(name, run, uses string) string {
	switch {
	case name != "":
		return name
	case run != "":
		return firstLine(run)
	default:
		return uses
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx] + " …"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// cleanErrorOutput removes noise and keeps the lines that explain a failure.
func cleanErrorOutput(output string) string {
	lines := strings.Split(output, "\n")
	if isRSpecOutput(lines) {
		return formatRSpecFailures(lines)
	}

	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || isNoise(line) {
			continue
		}
		if strings.Contains(line, "failed") ||
			strings.Contains(line, "error") ||
			strings.Contains(line, "Error") ||
			strings.Contains(line, "FAILED") ||
			strings.Contains(line, "panic:") ||
			strings.Contains(line, "aborted") ||
			strings.Contains(line, "Tasks: TOP") {
			cleaned = append(cleaned, line)
		}
	}
	if len(cleaned) > 0 {
		return strings.Join(cleaned, "\n")
	}
	// Nothing matched; fall back to the tail that the runner kept.
	return strings.TrimSpace(output)
}

// isNoise matches toolchain chatter that never explains a failure.
func isNoise(line string) bool {
	for _, marker := range noiseMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

var noiseMarkers = []string{
	"Bash implementation",
	"Migration guide",
	"asdf website",
	"Source code",
	"migrate to the new version",
	"parser/current is loading parser",
	"Please see https://github.com/whitequark/parser",
	"config file has been renamed",
	"is deprecated",
	"Warning from shoulda-matchers",
	"validate_inclusion_of",
	"boolean column",
	"************************************************************************",
}

var rspecNoise = []string{
	"Finished in",
	"examples,",
	"Randomized with seed",
	"Pending:",
	"Not yet implemented",
}

func isRSpecOutput(lines []string) bool {
	for _, line := range lines {
		if strings.Contains(line, "Failures:") ||
			strings.Contains(line, "Failed examples:") ||
			strings.Contains(line, "rspec ./spec/") ||
			strings.Contains(line, "Failure/Error:") {
			return true
		}
	}
	return false
}

// formatRSpecFailures keeps each numbered failure with its error and the
// spec location.
func formatRSpecFailures(lines []string) string {
	var result []string
	var current []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || isNoise(line) || containsAny(line, rspecNoise) {
			continue
		}
		if isFailureHeader(line) {
			result = append(result, formatSingleFailure(current)...)
			current = []string{line}
			continue
		}
		if len(current) > 0 &&
			(strings.Contains(line, "Failure/Error:") ||
				strings.Contains(line, "expected") ||
				strings.HasPrefix(line, "# ./spec/")) {
			current = append(current, line)
		}
	}
	result = append(result, formatSingleFailure(current)...)

	if len(result) > 0 {
		return strings.Join(result, "\n")
	}
	return "RSpec tests failed - see verbose output for details"
}

// isFailureHeader matches "3) Widget renders", the start of one RSpec failure.
func isFailureHeader(line string) bool {
	idx := strings.Index(line, ") ")
	if idx <= 0 {
		return false
	}
	for _, r := range line[:idx] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatSingleFailure(failure []string) []string {
	if len(failure) == 0 {
		return nil
	}
	result := []string{failure[0]}
	for _, line := range failure[1:] {
		switch {
		case strings.Contains(line, "Failure/Error:"):
			msg := strings.TrimSpace(line[strings.Index(line, "Failure/Error:")+len("Failure/Error:"):])
			result = append(result, "  ✗ "+msg)
		case strings.HasPrefix(line, "# ./spec/"):
			result = append(result, "  at "+strings.TrimPrefix(line, "# ./"))
		default:
			result = append(result, "    "+line)
		}
	}
	return result
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func decorateName(name, path string) string {
	if name == "" || name == path {
		return path
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

func statusGlyph(status report.Status) string {
	switch status {
	case report.StatusSucceeded:
		return "✓"
	case report.StatusFailed:
		return "✗"
	case report.StatusSkipped:
		return "-"
	case report.StatusRunning:
		return "…"
	default:
		return "?"
	}
}

func indent(s, pad string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
