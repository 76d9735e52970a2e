// Package engine runs a workflow for an event: it matches triggers, builds
// the job graph, hands the waves to the scheduler and aggregates the result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/graph"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/runner"
	"github.com/bgricker/localci/internal/scheduler"
	"github.com/bgricker/localci/internal/trigger"
)

// DetailNotTriggered marks a pipeline whose triggers do not cover the event.
const DetailNotTriggered = "not triggered"

// Options configure an Engine.
type Options struct {
	Runner      runner.Options
	MaxParallel int
	// Force runs workflows whose triggers do not match the event.
	Force bool
	Sink  report.Sink
	Now   func() time.Time
	NewID func() string
}

// Engine executes workflows.
type Engine struct {
	opts Options
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Sink == nil {
		opts.Sink = report.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Runner.Now == nil {
		opts.Runner.Now = opts.Now
	}
	return &Engine{opts: opts}
}

// Plan validates wf and returns its waves of job ids.
func Plan(wf provider.Workflow) ([][]string, error) {
	g, err := graph.Build(wf.Jobs)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", wf.Path, err)
	}
	return g.Waves(), nil
}

// Validate checks every workflow's graph, returning the first configuration
// error.
func Validate(workflows []provider.Workflow) error {
	for _, wf := range workflows {
		if _, err := Plan(wf); err != nil {
			return err
		}
	}
	return nil
}

// Run executes wf for ev. A trigger mismatch is not an error: the result has
// Triggered=false and no job runs. A configuration error is returned before
// any job starts.
func (e *Engine) Run(ctx context.Context, wf provider.Workflow, ev trigger.Event) (report.PipelineResult, error) {
	return e.RunWithID(ctx, e.opts.NewID(), wf, ev)
}

// RunWithID is Run with a caller-assigned run id.
func (e *Engine) RunWithID(ctx context.Context, runID string, wf provider.Workflow, ev trigger.Event) (report.PipelineResult, error) {
	logger := ctxlog.FromContext(ctx).With("run_id", runID, "workflow", wf.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	result := report.PipelineResult{
		RunID:        runID,
		WorkflowPath: wf.Path,
		Workflow:     wf.Name,
		Event:        ev,
	}

	if !e.opts.Force && !trigger.MatchWorkflow(ev, wf) {
		logger.Info("workflow not triggered", "event", ev.String())
		_ = result.Skip(DetailNotTriggered)
		return result, nil
	}
	result.Triggered = true

	g, err := graph.Build(wf.Jobs)
	if err != nil {
		return result, fmt.Errorf("workflow %q: %w", wf.Path, err)
	}

	begun := e.opts.Now()
	logger.Debug("dispatching pipeline", "event", ev.String(), "jobs", g.Len(), "waves", len(g.Waves()))
	startEvent := report.Event{
		Type:     report.EventPipelineStarted,
		RunID:    runID,
		Workflow: wf.Name,
		Commit:   ev.Commit,
		Status:   report.StatusRunning,
	}
	starter := &startOnce{sink: e.opts.Sink, ev: startEvent, logger: logger}

	runOpts := e.opts.Runner
	runOpts.Sink = starter
	r := runner.New(runOpts)
	run := runner.Run{ID: runID, Workflow: wf, Event: ev}
	sched := scheduler.New(
		scheduler.JobRunnerFunc(func(ctx context.Context, job provider.Job) report.JobResult {
			return r.RunJob(ctx, run, job)
		}),
		scheduler.Options{
			MaxParallel: e.opts.MaxParallel,
			RunID:       runID,
			Workflow:    wf.Name,
			Sink:        starter,
			Commit:      ev.Commit,
			DryRun:      runOpts.DryRun,
			Now:         e.opts.Now,
		},
	)

	result.Jobs = sched.Run(ctx, g)
	finishedAt := e.opts.Now()
	startedAt, ok := starter.startedAt()
	if !ok {
		startedAt = finishedAt
	}
	settle(&result, startedAt, finishedAt)
	if result.Status != report.StatusSkipped {
		starter.start(result.StartedAt)
	}
	result.Summary = report.Summarize(result.Jobs, finishedAt.Sub(begun))
	if result.Status == report.StatusFailed {
		result.Summary.ExitCode = 1
	}

	logger.Info("pipeline finished", "status", result.Status, "detail", result.Detail)
	snapshot := result
	e.opts.Sink.Emit(report.Event{
		Type:           report.EventPipelineFinished,
		RunID:          runID,
		Workflow:       wf.Name,
		Commit:         ev.Commit,
		Status:         result.Status,
		Detail:         result.Detail,
		Time:           finishedAt,
		PipelineResult: &snapshot,
	})
	return result, nil
}

// startOnce forwards events and emits pipeline.started right before the
// first job.started, so a pipeline in which no job ever ran never leaves
// pending.
type startOnce struct {
	sink   report.Sink
	ev     report.Event
	logger *slog.Logger

	mu    sync.Mutex
	fired bool
	at    time.Time
}

func (s *startOnce) Emit(ev report.Event) {
	if ev.Type == report.EventJobStarted {
		s.start(ev.Time)
	}
	s.sink.Emit(ev)
}

func (s *startOnce) start(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return
	}
	s.fired, s.at = true, at
	s.logger.Info("pipeline started")
	ev := s.ev
	ev.Time = at
	s.sink.Emit(ev)
}

func (s *startOnce) startedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at, s.fired
}

// settle records the pipeline outcome from its jobs.
//
// A pipeline is cancelled only when a job actually ended cancelled. Once any
// job has run, the pipeline ends succeeded or failed: a job skipped next to
// jobs that ran fails the pipeline. Only a pipeline in which no job started
// (dry run, every job privileged) ends skipped.
func settle(result *report.PipelineResult, startedAt, finished time.Time) {
	var (
		cancelled  bool
		anyStarted bool
	)
	for _, j := range result.Jobs {
		if j.Detail == report.DetailCancelled {
			cancelled = true
		}
		if !j.StartedAt.IsZero() {
			anyStarted = true
		}
	}

	status := report.AggregateJobs(result.Jobs)
	detail := ""
	switch {
	case cancelled:
		status = report.StatusFailed
		detail = report.DetailCancelled
	case status == report.StatusFailed:
		for _, j := range result.Jobs {
			if j.Status == report.StatusFailed {
				detail = fmt.Sprintf("job %q failed", j.ID)
				break
			}
		}
	case status == report.StatusSkipped && !anyStarted:
		_ = result.Skip(skipDetail(result.Jobs))
		return
	case status == report.StatusSkipped:
		status = report.StatusFailed
		detail = partialDetail(result.Jobs)
	}

	_ = result.Start(startedAt)
	_ = result.Finish(status, detail, finished)
}

func skipDetail(jobs []report.JobResult) string {
	for _, j := range jobs {
		if j.Status == report.StatusSkipped && j.Detail != "" {
			return j.Detail
		}
	}
	return ""
}

// partialDetail names the first job that was skipped while others ran.
func partialDetail(jobs []report.JobResult) string {
	for _, j := range jobs {
		if j.Status != report.StatusSkipped {
			continue
		}
		if j.Detail == "" {
			return fmt.Sprintf("job %q skipped", j.ID)
		}
		return fmt.Sprintf("job %q skipped: %s", j.ID, j.Detail)
	}
	return ""
}
