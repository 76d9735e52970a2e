package output

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/bgricker/localci/internal/report"
)

// StreamRenderer prints pipeline progress as events arrive. Jobs of a wave
// run concurrently, so every line is prefixed with its job.
type StreamRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewStream creates a StreamRenderer. When verbose, step output lines are
// echoed as they are produced.
func NewStream(out io.Writer, verbose bool) *StreamRenderer {
	return &StreamRenderer{out: out, verbose: verbose}
}

// Emit implements report.Sink.
func (s *StreamRenderer) Emit(ev report.Event) {
	var buf bytes.Buffer
	switch ev.Type {
	case report.EventPipelineStarted:
		fmt.Fprintf(&buf, "▶ %s (run %s)\n", ev.Workflow, ev.RunID)
	case report.EventJobStarted:
		fmt.Fprintf(&buf, "⏳ %s\n", ev.Job)
	case report.EventStepStarted:
		if s.verbose {
			fmt.Fprintf(&buf, "[%s] ▸ %s\n", ev.Job, ev.Step)
		}
	case report.EventStepOutput:
		if !s.verbose {
			return
		}
		if ev.Stream == report.Stderr {
			fmt.Fprintf(&buf, "[%s] ! %s\n", ev.Job, ev.Line)
		} else {
			fmt.Fprintf(&buf, "[%s] %s\n", ev.Job, ev.Line)
		}
	case report.EventJobFinished:
		if ev.JobResult == nil {
			return
		}
		s.writeJob(&buf, *ev.JobResult)
	case report.EventPipelineFinished:
		if ev.PipelineResult != nil {
			fmt.Fprintf(&buf, "%s %s: %s (%s)\n", jobEmoji(ev.Status), ev.Workflow, ev.Status, formatDuration(ev.PipelineResult.Summary.Duration))
		}
	default:
		return
	}
	if buf.Len() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = buf.WriteTo(s.out)
}

func (s *StreamRenderer) writeJob(buf *bytes.Buffer, job report.JobResult) {
	fmt.Fprintf(buf, "%s %s (%s)", jobEmoji(job.Status), job.Name, formatDuration(job.Duration()))
	if job.Status != report.StatusSucceeded && job.Detail != "" {
		fmt.Fprintf(buf, ": %s", job.Detail)
	}
	buf.WriteString("\n")
	if job.Status != report.StatusFailed {
		return
	}
	for _, step := range job.Steps {
		writeStep(buf, step)
	}
}

func jobEmoji(status report.Status) string {
	switch status {
	case report.StatusSucceeded:
		return "✅"
	case report.StatusFailed:
		return "❌"
	case report.StatusSkipped:
		return "⏭️"
	case report.StatusRunning:
		return "🟢"
	default:
		return "❓"
	}
}
