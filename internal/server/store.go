package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/trigger"
)

// entry is one pipeline run known to the server.
type entry struct {
	result   report.PipelineResult
	created  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

// store tracks run snapshots. It is a report.Sink: engine events update the
// live view of each run.
type store struct {
	mu   sync.Mutex
	runs map[string]*entry

	// retain caps how many finished runs are kept; the oldest go first.
	retain int
}

func newStore(retain int) *store {
	if retain <= 0 {
		retain = DefaultRetainRuns
	}
	return &store{runs: make(map[string]*entry), retain: retain}
}

func (s *store) add(id, path, workflow string, ev trigger.Event, created time.Time, cancel context.CancelFunc) *entry {
	e := &entry{
		result: report.PipelineResult{
			RunID:        id,
			WorkflowPath: path,
			Workflow:     workflow,
			Event:        ev,
			Triggered:    true,
		},
		created: created,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[id] = e
	s.mu.Unlock()
	return e
}

// complete records the final result of a run and releases its waiters.
func (s *store) complete(id string, result report.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok || e.finished {
		return
	}
	e.result = result
	e.finished = true
	close(e.done)
	s.evictLocked()
}

// evictLocked drops the oldest finished runs beyond the retain limit.
func (s *store) evictLocked() {
	var done []*entry
	for _, e := range s.runs {
		if e.finished {
			done = append(done, e)
		}
	}
	if len(done) <= s.retain {
		return
	}
	sortEntries(done)
	for _, e := range done[:len(done)-s.retain] {
		delete(s.runs, e.result.RunID)
	}
}

func sortEntries(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created.Equal(entries[j].created) {
			return entries[i].result.RunID < entries[j].result.RunID
		}
		return entries[i].created.Before(entries[j].created)
	})
}

// supersede cancels unfinished runs of the workflow at path on branch.
func (s *store) supersede(path, branch string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.runs {
		if e.finished || e.result.WorkflowPath != path || e.result.Event.Branch != branch {
			continue
		}
		e.cancel()
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *store) cancel(id string) (found, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return false, false
	}
	if e.finished {
		return true, false
	}
	e.cancel()
	return true, true
}

func (s *store) get(id string) (report.PipelineResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return report.PipelineResult{}, false
	}
	return snapshot(e.result), true
}

func (s *store) wait(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// resultOf snapshots e, which may already have been evicted.
func (s *store) resultOf(e *entry) report.PipelineResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(e.result)
}

// list returns the runs oldest first.
func (s *store) list() []report.PipelineResult {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.runs))
	for _, e := range s.runs {
		entries = append(entries, e)
	}
	sortEntries(entries)
	out := make([]report.PipelineResult, 0, len(entries))
	for _, e := range entries {
		out = append(out, snapshot(e.result))
	}
	s.mu.Unlock()
	return out
}

func (s *store) cancelAll() []<-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var waits []<-chan struct{}
	for _, e := range s.runs {
		if !e.finished {
			e.cancel()
			waits = append(waits, e.done)
		}
	}
	return waits
}

// Emit folds an engine event into the live snapshot of its run.
func (s *store) Emit(ev report.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[ev.RunID]
	if !ok || e.finished {
		return
	}
	res := &e.result
	switch ev.Type {
	case report.EventPipelineStarted:
		res.Status = report.StatusRunning
		res.StartedAt = ev.Time
	case report.EventJobStarted:
		job := jobFor(res, ev.Job)
		job.Status = report.StatusRunning
		job.StartedAt = ev.Time
	case report.EventStepFinished:
		job := jobFor(res, ev.Job)
		step := report.StepResult{Name: ev.Step}
		step.Status = ev.Status
		step.Detail = ev.Detail
		step.FinishedAt = ev.Time
		job.Steps = append(job.Steps, step)
	case report.EventJobFinished:
		if ev.JobResult != nil {
			*jobFor(res, ev.Job) = *ev.JobResult
		}
	case report.EventPipelineFinished:
		if ev.PipelineResult != nil {
			e.result = *ev.PipelineResult
		}
	}
}

func jobFor(res *report.PipelineResult, id string) *report.JobResult {
	for i := range res.Jobs {
		if res.Jobs[i].ID == id {
			return &res.Jobs[i]
		}
	}
	res.Jobs = append(res.Jobs, report.JobResult{ID: id, Name: id})
	return &res.Jobs[len(res.Jobs)-1]
}

// snapshot copies the mutable parts of a result so callers never share
// slices with the store.
func snapshot(res report.PipelineResult) report.PipelineResult {
	out := res
	out.Jobs = make([]report.JobResult, len(res.Jobs))
	for i, j := range res.Jobs {
		j.Steps = append([]report.StepResult(nil), j.Steps...)
		out.Jobs[i] = j
	}
	return out
}
