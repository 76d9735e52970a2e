package report

import (
	"sync"
	"time"
)

// EventType names a point in a pipeline run's lifecycle.
type EventType string

const (
	EventPipelineStarted  EventType = "pipeline.started"
	EventJobStarted       EventType = "job.started"
	EventStepStarted      EventType = "step.started"
	EventStepOutput       EventType = "step.output"
	EventStepFinished     EventType = "step.finished"
	EventJobFinished      EventType = "job.finished"
	EventPipelineFinished EventType = "pipeline.finished"
)

// Stream identifies the output stream of a step.output line.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Event is one incremental report from a pipeline run. Job.finished and
// pipeline.finished carry the full result.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Workflow string    `json:"workflow,omitempty"`
	Commit   string    `json:"commit,omitempty"`
	Job      string    `json:"job,omitempty"`
	Step     string    `json:"step,omitempty"`
	Status   Status    `json:"status,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Stream   Stream    `json:"stream,omitempty"`
	Line     string    `json:"line,omitempty"`
	Time     time.Time `json:"time"`

	JobResult      *JobResult      `json:"job_result,omitempty"`
	PipelineResult *PipelineResult `json:"pipeline_result,omitempty"`
}

// Sink receives events. Jobs in a wave run concurrently, so implementations
// must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type multi []Sink

func (m multi) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if nested, ok := s.(multi); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns recorded events of the given type.
func (r *Recorder) Filter(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
