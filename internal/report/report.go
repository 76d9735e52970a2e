package report

import (
	"time"

	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/trigger"
)

// StepResult captures the outcome of a single step.
type StepResult struct {
	Name     string              `json:"name"`
	Kind     provider.ActionKind `json:"kind"`
	Run      string              `json:"run,omitempty"`
	Uses     string              `json:"uses,omitempty"`
	Outcome
	DurationMS int64  `json:"duration_ms"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
}

// JobResult captures a job's outcome and its steps in declaration order.
type JobResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Wave   int    `json:"wave"`
	RunsOn string `json:"runs_on,omitempty"`
	Outcome
	DurationMS int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
}

// PipelineResult is the durable report of one pipeline run.
type PipelineResult struct {
	RunID        string        `json:"run_id"`
	WorkflowPath string        `json:"workflow_path"`
	Workflow     string        `json:"workflow"`
	Event        trigger.Event `json:"event"`
	Triggered    bool          `json:"triggered"`
	Outcome
	Jobs    []JobResult `json:"jobs"`
	Summary Summary     `json:"summary"`
}

// Summary aggregates pipeline execution counts.
type Summary struct {
	TotalJobs   int           `json:"total_jobs"`
	TotalSteps  int           `json:"total_steps"`
	JobsPassed  int           `json:"jobs_passed"`
	JobsFailed  int           `json:"jobs_failed"`
	JobsSkipped int           `json:"jobs_skipped"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	ExitCode    int           `json:"exit_code"`
}

// Aggregate applies the roll-up rule: failed if any part failed, succeeded
// if every part succeeded, skipped otherwise. An empty set succeeds.
func Aggregate(statuses []Status) Status {
	allSucceeded := true
	for _, s := range statuses {
		if s == StatusFailed {
			return StatusFailed
		}
		if s != StatusSucceeded {
			allSucceeded = false
		}
	}
	if allSucceeded {
		return StatusSucceeded
	}
	return StatusSkipped
}

// AggregateSteps rolls step outcomes up into a job status.
func AggregateSteps(steps []StepResult) Status {
	statuses := make([]Status, 0, len(steps))
	for _, s := range steps {
		statuses = append(statuses, s.Status)
	}
	return Aggregate(statuses)
}

// AggregateJobs rolls job outcomes up into a pipeline status.
func AggregateJobs(jobs []JobResult) Status {
	statuses := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		statuses = append(statuses, j.Status)
	}
	return Aggregate(statuses)
}

// FirstFailure returns the first failed step of the job.
func (j JobResult) FirstFailure() (StepResult, bool) {
	for _, s := range j.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Step looks up a step result by name.
func (j JobResult) Step(name string) (StepResult, bool) {
	for _, s := range j.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Job looks up a job result by id.
func (p PipelineResult) Job(id string) (JobResult, bool) {
	for _, j := range p.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobResult{}, false
}

// FirstFailure returns the first failed job (in report order) and its first
// failed step, if any.
func (p PipelineResult) FirstFailure() (JobResult, StepResult, bool) {
	for _, j := range p.Jobs {
		if j.Status != StatusFailed {
			continue
		}
		step, _ := j.FirstFailure()
		return j, step, true
	}
	return JobResult{}, StepResult{}, false
}

// Summarize counts jobs and steps by status.
func Summarize(jobs []JobResult, duration time.Duration) Summary {
	summary := Summary{TotalJobs: len(jobs), Duration: duration, DurationMS: duration.Milliseconds()}
	for _, j := range jobs {
		switch j.Status {
		case StatusSucceeded:
			summary.JobsPassed++
		case StatusFailed:
			summary.JobsFailed++
		default:
			summary.JobsSkipped++
		}
		for _, s := range j.Steps {
			summary.TotalSteps++
			switch s.Status {
			case StatusSucceeded:
				summary.Passed++
			case StatusFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
		}
	}
	if summary.JobsFailed > 0 {
		summary.ExitCode = 1
	}
	return summary
}

// Combine adds up the summaries of several pipeline runs. Runs that were not
// triggered contribute nothing.
func Combine(results []PipelineResult) Summary {
	var total Summary
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		s := r.Summary
		total.TotalJobs += s.TotalJobs
		total.TotalSteps += s.TotalSteps
		total.JobsPassed += s.JobsPassed
		total.JobsFailed += s.JobsFailed
		total.JobsSkipped += s.JobsSkipped
		total.Passed += s.Passed
		total.Failed += s.Failed
		total.Skipped += s.Skipped
		total.Duration += s.Duration
		if r.Status == StatusFailed {
			total.ExitCode = 1
		}
	}
	total.DurationMS = total.Duration.Milliseconds()
	return total
}
