package runner

import (
	"bytes"
	"strings"
	"sync"

	"github.com/bgricker/localci/internal/report"
)

// stepOutput captures a step's stdout and stderr and streams every complete
// line to the sink as a step.output event.
type stepOutput struct {
	state  *jobState
	step   string
	stdout *lineWriter
	stderr *lineWriter
}

func newStepOutput(state *jobState, step string) *stepOutput {
	o := &stepOutput{state: state, step: step}
	o.stdout = &lineWriter{emit: o.line(report.Stdout)}
	o.stderr = &lineWriter{emit: o.line(report.Stderr)}
	return o
}

func (o *stepOutput) line(stream report.Stream) func(string) {
	return func(line string) {
		o.state.emit(report.Event{
			Type:   report.EventStepOutput,
			Step:   o.step,
			Stream: stream,
			Line:   line,
			Time:   o.state.now(),
		})
	}
}

// Println writes an informational line to stdout.
func (o *stepOutput) Println(line string) {
	_, _ = o.stdout.Write([]byte(line + "\n"))
}

func (o *stepOutput) Flush() {
	o.stdout.Flush()
	o.stderr.Flush()
}

func (o *stepOutput) Stdout() string { return o.stdout.String() }
func (o *stepOutput) Stderr() string { return o.stderr.String() }

// lineWriter is an io.Writer that splits its input into lines. exec.Cmd may
// write from separate goroutines, so writes are serialized.
type lineWriter struct {
	mu      sync.Mutex
	emit    func(string)
	pending []byte
	all     strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.pending[:idx]), "\r"))
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(strings.TrimRight(string(w.pending), "\r"))
		w.pending = nil
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
