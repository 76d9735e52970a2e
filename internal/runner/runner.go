// Package runner executes a single job: its steps run one at a time, in
// declaration order, inside one workspace.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bgricker/localci/internal/cache"
	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/trigger"
)

// DefaultStepTimeout bounds a step that declares no timeout of its own.
const DefaultStepTimeout = 30 * time.Minute

// Options configure how the runner executes steps.
type Options struct {
	Root               string
	TailLines          int
	Env                []string
	Now                func() time.Time
	DryRun             bool
	Isolate            bool
	StepTimeout        time.Duration
	AllowPrivileged    bool
	PrivilegedPatterns []string
	Cache              cache.Cache
	Sink               report.Sink
}

// Runner executes jobs.
type Runner struct {
	opts Options
}

// New creates a runner with the supplied options.
func New(opts Options) *Runner {
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if len(opts.PrivilegedPatterns) == 0 {
		opts.PrivilegedPatterns = DefaultPrivilegedPatterns()
	}
	opts.PrivilegedPatterns = append([]string{}, opts.PrivilegedPatterns...)
	if opts.Sink == nil {
		opts.Sink = report.Discard
	}
	return &Runner{opts: opts}
}

// Run identifies the pipeline run a job belongs to.
type Run struct {
	ID       string
	Workflow provider.Workflow
	Event    trigger.Event
}

// jobState is the per-job execution context shared by its steps.
type jobState struct {
	run        Run
	job        provider.Job
	workspace  string
	toolchains []string
	saves      []pendingSave
	sink       report.Sink
	now        func() time.Time
}

func (s *jobState) emit(ev report.Event) {
	ev.RunID = s.run.ID
	ev.Workflow = s.run.Workflow.Name
	ev.Commit = s.run.Event.Commit
	ev.Job = s.job.ID
	s.sink.Emit(ev)
}

// descriptor is the toolchain/environment fingerprint input accumulated by
// the setup steps that ran so far.
func (s *jobState) descriptor() string {
	return strings.Join(s.toolchains, ";")
}

// RunJob runs every step of job and returns its result. A job whose steps
// are all skipped up front (dry run, privileged commands) is never started.
// Once started, the job ends succeeded or failed.
func (r *Runner) RunJob(ctx context.Context, run Run, job provider.Job) report.JobResult {
	logger := ctxlog.FromContext(ctx).With("job", job.ID)
	result := report.JobResult{
		ID:     job.ID,
		Name:   job.DisplayName(),
		RunsOn: job.RunsOn,
		Steps:  make([]report.StepResult, len(job.Steps)),
	}
	for i, step := range job.Steps {
		result.Steps[i] = report.StepResult{Name: step.Name, Kind: step.Kind, Run: step.Run, Uses: step.Uses}
	}
	state := &jobState{run: run, job: job, sink: r.opts.Sink, now: r.opts.Now}

	if detail, skip := r.skipJob(job, result.Steps); skip {
		_ = result.Skip(detail)
		for i := range result.Steps {
			state.emit(report.Event{Type: report.EventStepFinished, Step: result.Steps[i].Name, Status: report.StatusSkipped, Detail: result.Steps[i].Detail, Time: r.opts.Now()})
		}
		logger.Info("job skipped", "detail", detail)
		return result
	}

	_ = result.Start(r.opts.Now())
	state.emit(report.Event{Type: report.EventJobStarted, Status: report.StatusRunning, Time: result.StartedAt})
	logger.Info("job started")

	workspace, cleanup, err := r.prepareWorkspace(job)
	if err != nil {
		logger.Error("prepare workspace", "error", err)
		detail := fmt.Sprintf("workspace: %v", err)
		r.failSetup(state, &result, detail)
		_ = result.Finish(report.StatusFailed, detail, r.opts.Now())
		result.DurationMS = result.Duration().Milliseconds()
		return result
	}
	defer cleanup()
	state.workspace = workspace

	failed := false
	for i, step := range job.Steps {
		sr := &result.Steps[i]
		if failed {
			_ = sr.Skip("")
			state.emit(report.Event{Type: report.EventStepFinished, Step: sr.Name, Status: report.StatusSkipped, Time: r.opts.Now()})
			continue
		}
		r.runStep(ctx, state, step, sr)
		if sr.Status == report.StatusFailed {
			failed = true
			logger.Info("step failed", "step", sr.Name, "detail", sr.Detail)
		}
	}

	if !failed && len(state.saves) > 0 {
		r.saveCaches(ctx, state)
	}

	r.finishJob(&result)
	return result
}

// skipJob decides whether the whole job is skipped before it starts, marking
// each step accordingly.
func (r *Runner) skipJob(job provider.Job, steps []report.StepResult) (string, bool) {
	if r.opts.DryRun {
		for i := range steps {
			_ = steps[i].Skip(report.DetailDryRun)
		}
		return report.DetailDryRun, true
	}
	detail := ""
	for i, step := range job.Steps {
		if step.Kind != provider.ActionRun {
			continue
		}
		if msg, skip := shouldSkipStep(step.Run, r.opts); skip {
			_ = steps[i].Skip(msg)
			if detail == "" {
				detail = fmt.Sprintf("step %q: %s", step.Name, msg)
			}
		}
	}
	if detail == "" {
		return "", false
	}
	for i := range steps {
		if steps[i].Status != report.StatusSkipped {
			_ = steps[i].Skip("job contains a privileged command")
		}
	}
	return detail, true
}

func (r *Runner) failSetup(state *jobState, result *report.JobResult, detail string) {
	for i := range result.Steps {
		sr := &result.Steps[i]
		if i == 0 {
			_ = sr.Start(r.opts.Now())
			_ = sr.Finish(report.StatusFailed, detail, r.opts.Now())
		} else {
			_ = sr.Skip("")
		}
		state.emit(report.Event{Type: report.EventStepFinished, Step: sr.Name, Status: sr.Status, Detail: sr.Detail, Time: r.opts.Now()})
	}
}

func (r *Runner) finishJob(result *report.JobResult) {
	now := r.opts.Now()
	if report.AggregateSteps(result.Steps) == report.StatusFailed {
		_ = result.Finish(report.StatusFailed, jobFailureDetail(*result), now)
	} else {
		_ = result.Finish(report.StatusSucceeded, "", now)
	}
	result.DurationMS = result.Duration().Milliseconds()
}

func jobFailureDetail(result report.JobResult) string {
	step, ok := result.FirstFailure()
	if !ok {
		return ""
	}
	switch step.Detail {
	case report.DetailCancelled, report.DetailTimeout:
		return step.Detail
	}
	return fmt.Sprintf("step %q failed", step.Name)
}

// runStep drives one step through pending -> running -> succeeded|failed.
func (r *Runner) runStep(ctx context.Context, state *jobState, step provider.Step, sr *report.StepResult) {
	logger := ctxlog.FromContext(ctx).With("job", state.job.ID, "step", step.Name)

	_ = sr.Start(r.opts.Now())
	state.emit(report.Event{Type: report.EventStepStarted, Step: sr.Name, Status: report.StatusRunning, Time: sr.StartedAt})

	if ctx.Err() != nil {
		r.finishStep(state, sr, report.StatusFailed, report.DetailCancelled)
		return
	}

	timeout := r.stepTimeout(state.job, step)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := newStepOutput(state, step.Name)
	var (
		detail string
		err    error
	)
	switch step.Kind {
	case provider.ActionCheckout:
		detail, err = r.checkout(stepCtx, state, step, out)
	case provider.ActionSetup:
		detail, err = r.setup(stepCtx, state, step, out)
	case provider.ActionCache:
		detail = r.restoreCache(stepCtx, state, step, out)
	case provider.ActionRun:
		detail, err = r.runCommand(stepCtx, state, step, sr, out)
	default:
		err = fmt.Errorf("unsupported action %q", step.Uses)
	}
	out.Flush()
	sr.Stdout = tailLines(out.Stdout(), r.opts.TailLines)
	sr.Stderr = tailLines(simplifyError(out.Stderr()), r.opts.TailLines)

	if err == nil {
		r.finishStep(state, sr, report.StatusSucceeded, detail)
		return
	}

	switch {
	case ctx.Err() != nil:
		detail = report.DetailCancelled
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		detail = report.DetailTimeout
	default:
		detail = err.Error()
	}
	logger.Debug("step error", "error", err, "detail", detail)
	r.finishStep(state, sr, report.StatusFailed, detail)
}

func (r *Runner) finishStep(state *jobState, sr *report.StepResult, status report.Status, detail string) {
	_ = sr.Finish(status, detail, r.opts.Now())
	sr.DurationMS = sr.Duration().Milliseconds()
	state.emit(report.Event{Type: report.EventStepFinished, Step: sr.Name, Status: status, Detail: detail, Time: sr.FinishedAt})
}

// stepTimeout picks the step's own timeout, then the job's, then the default.
func (r *Runner) stepTimeout(job provider.Job, step provider.Step) time.Duration {
	switch {
	case step.TimeoutMinutes > 0:
		return time.Duration(step.TimeoutMinutes) * time.Minute
	case job.TimeoutMinutes > 0:
		return time.Duration(job.TimeoutMinutes) * time.Minute
	default:
		return r.opts.StepTimeout
	}
}

func (r *Runner) prepareWorkspace(job provider.Job) (string, func(), error) {
	if !r.opts.Isolate {
		root := r.opts.Root
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", nil, fmt.Errorf("determine working directory: %w", err)
			}
			root = wd
		}
		return root, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "localci-"+sanitizeName(job.ID)+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
