// Package scheduler dispatches a job graph wave by wave. Jobs within a wave
// run concurrently; a wave starts only after every job of the previous wave
// succeeded.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/graph"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
)

// DetailHalted marks jobs skipped because an earlier wave did not succeed.
const DetailHalted = "earlier wave did not succeed"

// JobRunner runs one job to completion. It owns the job's outcome from the
// moment it is called and must honour ctx cancellation.
type JobRunner interface {
	RunJob(ctx context.Context, job provider.Job) report.JobResult
}

// JobRunnerFunc adapts a function to JobRunner.
type JobRunnerFunc func(ctx context.Context, job provider.Job) report.JobResult

func (f JobRunnerFunc) RunJob(ctx context.Context, job provider.Job) report.JobResult {
	return f(ctx, job)
}

// Options configure a Scheduler.
type Options struct {
	// MaxParallel bounds concurrently running jobs; 0 means one slot per job
	// in the wave.
	MaxParallel int
	RunID       string
	Workflow    string
	Commit      string
	Sink        report.Sink
	// DryRun keeps dispatching later waves although dry-run jobs end skipped.
	DryRun bool
	Now    func() time.Time
}

// Scheduler runs the waves of a graph.
type Scheduler struct {
	runner JobRunner
	opts   Options
}

// New creates a scheduler handing jobs to runner.
func New(runner JobRunner, opts Options) *Scheduler {
	if opts.Sink == nil {
		opts.Sink = report.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{runner: runner, opts: opts}
}

// Run executes g and returns one result per job, ordered by wave then id.
// Jobs that never start (fail-fast or cancellation) are skipped.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) []report.JobResult {
	logger := ctxlog.FromContext(ctx)
	waves := g.Waves()
	results := make([]report.JobResult, 0, g.Len())

	halted := false
	for w, ids := range waves {
		if !halted && ctx.Err() == nil {
			logger.Debug("dispatching wave", "wave", w, "jobs", ids)
			waveResults := s.runWave(ctx, g, w, ids)
			results = append(results, waveResults...)
			for _, res := range waveResults {
				if res.Status != report.StatusSucceeded && !(s.opts.DryRun && res.Status == report.StatusSkipped) {
					halted = true
				}
			}
			if halted {
				logger.Info("halting after wave", "wave", w)
			}
			continue
		}

		detail := DetailHalted
		if ctx.Err() != nil {
			detail = report.DetailCancelled
		}
		for _, id := range ids {
			job, _ := g.Job(id)
			res := s.skipped(job, w, detail)
			results = append(results, res)
			s.finished(res)
		}
	}
	return results
}

type waveResult struct {
	index int
	res   report.JobResult
}

// runWave starts one goroutine per job; results come back over a channel to
// this goroutine, the only one that aggregates them.
func (s *Scheduler) runWave(ctx context.Context, g *graph.Graph, wave int, ids []string) []report.JobResult {
	slots := int64(len(ids))
	if s.opts.MaxParallel > 0 && int64(s.opts.MaxParallel) < slots {
		slots = int64(s.opts.MaxParallel)
	}
	sem := semaphore.NewWeighted(slots)
	ch := make(chan waveResult, len(ids))

	for i, id := range ids {
		job, _ := g.Job(id)
		go func(i int, job provider.Job) {
			if err := sem.Acquire(ctx, 1); err != nil {
				ch <- waveResult{index: i, res: s.skipped(job, wave, report.DetailCancelled)}
				return
			}
			defer sem.Release(1)
			// Acquire may succeed on an already cancelled context
			if ctx.Err() != nil {
				ch <- waveResult{index: i, res: s.skipped(job, wave, report.DetailCancelled)}
				return
			}
			res := s.runner.RunJob(ctx, job)
			res.Wave = wave
			ch <- waveResult{index: i, res: res}
		}(i, job)
	}

	out := make([]report.JobResult, len(ids))
	for range ids {
		wr := <-ch
		out[wr.index] = wr.res
		s.finished(wr.res)
	}
	return out
}

func (s *Scheduler) skipped(job provider.Job, wave int, detail string) report.JobResult {
	res := report.JobResult{ID: job.ID, Name: job.DisplayName(), Wave: wave, RunsOn: job.RunsOn}
	_ = res.Skip(detail)
	res.Steps = make([]report.StepResult, len(job.Steps))
	for i, step := range job.Steps {
		res.Steps[i] = report.StepResult{Name: step.Name, Kind: step.Kind, Run: step.Run, Uses: step.Uses}
		_ = res.Steps[i].Skip("")
	}
	return res
}

func (s *Scheduler) finished(res report.JobResult) {
	snapshot := res
	s.opts.Sink.Emit(report.Event{
		Type:      report.EventJobFinished,
		RunID:     s.opts.RunID,
		Workflow:  s.opts.Workflow,
		Commit:    s.opts.Commit,
		Job:       res.ID,
		Status:    res.Status,
		Detail:    res.Detail,
		Time:      s.opts.Now(),
		JobResult: &snapshot,
	})
}
