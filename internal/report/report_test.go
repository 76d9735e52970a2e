package report

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutcomeTransitions(t *testing.T) {
	now := time.Unix(100, 0)

	var o Outcome
	require.Equal(t, StatusPending, o.current())
	require.NoError(t, o.Start(now))
	require.ErrorIs(t, o.Skip(""), ErrTransition)
	require.ErrorIs(t, o.Finish(StatusSkipped, "", now), ErrTransition)
	require.NoError(t, o.Finish(StatusFailed, DetailTimeout, now.Add(time.Second)))
	require.Equal(t, time.Second, o.Duration())

	// terminal outcomes are immutable
	require.ErrorIs(t, o.Finish(StatusSucceeded, "", now), ErrTransition)
	require.ErrorIs(t, o.Start(now), ErrTransition)
	require.Equal(t, StatusFailed, o.Status)
	require.Equal(t, DetailTimeout, o.Detail)

	var skipped Outcome
	require.NoError(t, skipped.Skip(DetailCancelled))
	require.ErrorIs(t, skipped.Start(now), ErrTransition)
	require.True(t, skipped.Status.Terminal())
	require.Zero(t, skipped.Duration())
}

func TestFinishRequiresRunning(t *testing.T) {
	var o Outcome
	err := o.Finish(StatusSucceeded, "", time.Now())
	require.True(t, errors.Is(err, ErrTransition))
}

func steps(statuses ...Status) []StepResult {
	out := make([]StepResult, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, StepResult{Name: string(rune('a' + i)), Outcome: Outcome{Status: s}})
	}
	return out
}

func TestAggregateSteps(t *testing.T) {
	require.Equal(t, StatusFailed, AggregateSteps(steps(StatusSucceeded, StatusFailed, StatusSkipped)))
	require.Equal(t, StatusSucceeded, AggregateSteps(steps(StatusSucceeded, StatusSucceeded)))
	require.Equal(t, StatusSkipped, AggregateSteps(steps(StatusSucceeded, StatusSkipped)))
	require.Equal(t, StatusSkipped, AggregateSteps(steps(StatusSkipped)))
	require.Equal(t, StatusSucceeded, AggregateSteps(nil))
}

func TestPipelineLookups(t *testing.T) {
	p := PipelineResult{Jobs: []JobResult{
		{ID: "rustfmt", Outcome: Outcome{Status: StatusSucceeded}},
		{ID: "build_and_test", Outcome: Outcome{Status: StatusFailed}, Steps: []StepResult{
			{Name: "Build", Outcome: Outcome{Status: StatusSucceeded}},
			{Name: "Test", Outcome: Outcome{Status: StatusFailed, Detail: "exit status 101"}},
			{Name: "Check documentation", Outcome: Outcome{Status: StatusSkipped}},
		}},
	}}
	require.Equal(t, StatusFailed, AggregateJobs(p.Jobs))

	job, step, ok := p.FirstFailure()
	require.True(t, ok)
	require.Equal(t, "build_and_test", job.ID)
	require.Equal(t, "Test", step.Name)

	fmtJob, ok := p.Job("rustfmt")
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, fmtJob.Status)
	_, ok = p.Job("missing")
	require.False(t, ok)

	doc, ok := job.Step("Check documentation")
	require.True(t, ok)
	require.Equal(t, StatusSkipped, doc.Status)

	summary := Summarize(p.Jobs, 2*time.Second)
	require.Equal(t, 2, summary.TotalJobs)
	require.Equal(t, 1, summary.JobsFailed)
	require.Equal(t, 1, summary.JobsPassed)
	require.Equal(t, 3, summary.TotalSteps)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, summary.ExitCode)
	require.EqualValues(t, 2000, summary.DurationMS)
}

func TestOutcomeJSONInline(t *testing.T) {
	data, err := json.Marshal(JobResult{ID: "build", Outcome: Outcome{Status: StatusFailed, Detail: DetailCancelled}})
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"failed"`)
	require.Contains(t, string(data), `"detail":"cancelled"`)
	require.NotContains(t, string(data), "started_at")
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	var a, b Recorder
	sink := Multi(&a, nil, Multi(&b))
	sink.Emit(Event{Type: EventJobStarted, Job: "x"})
	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	require.Len(t, b.Filter(EventJobStarted), 1)
	require.Empty(t, b.Filter(EventJobFinished))
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, nil)

	sink.Emit(Event{Type: EventStepOutput, RunID: "r1", Job: "build", Step: "Run tests", Line: "ok"})
	sink.Emit(Event{Type: EventStepOutput, RunID: "r1", Job: "build", Step: "Run tests", Line: "boom", Stream: Stderr})
	sink.Emit(Event{Type: EventStepFinished, RunID: "r1", Job: "build", Step: "Run tests"})
	result := PipelineResult{RunID: "r1", Workflow: "CI", Outcome: Outcome{Status: StatusSucceeded}}
	sink.Emit(Event{Type: EventPipelineFinished, RunID: "r1", PipelineResult: &result})
	require.NoError(t, sink.Err())

	logData, err := os.ReadFile(filepath.Join(dir, "r1", "build", "Run_tests.log"))
	require.NoError(t, err)
	require.Equal(t, "ok\n[stderr] boom\n", string(logData))

	data, err := os.ReadFile(sink.ReportPath("r1"))
	require.NoError(t, err)
	var decoded PipelineResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "CI", decoded.Workflow)
	require.Equal(t, StatusSucceeded, decoded.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestHTTPSinkPostsStatuses(t *testing.T) {
	var (
		mu       sync.Mutex
		received []CommitStatus
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var cs CommitStatus
		_ = json.Unmarshal(body, &cs)
		mu.Lock()
		received = append(received, cs)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "secret", nil)
	defer sink.Close()

	sink.Emit(Event{Type: EventJobStarted, RunID: "r1", Workflow: "CI", Commit: "abc123", Job: "build", Status: StatusRunning})
	sink.Emit(Event{Type: EventStepOutput, RunID: "r1", Job: "build", Line: "ignored"})
	sink.Emit(Event{Type: EventJobFinished, RunID: "r1", Workflow: "CI", Job: "build", Status: StatusFailed, Detail: DetailTimeout})
	sink.Emit(Event{Type: EventPipelineFinished, RunID: "r1", Workflow: "CI", Status: StatusFailed})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	require.Equal(t, "pending", received[0].State)
	require.Equal(t, "localci/CI/build", received[0].Context)
	require.Equal(t, "abc123", received[0].Commit)
	require.Equal(t, "failure", received[1].State)
	require.Equal(t, "failed: timeout", received[1].Description)
	require.Equal(t, "localci/CI", received[2].Context)
	require.Equal(t, "Bearer secret", auth)
}

func TestHTTPSinkUnreachableIsBestEffort(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1/status", "", nil)
	sink.Timeout = 200 * time.Millisecond
	defer sink.Close()
	sink.Emit(Event{Type: EventPipelineFinished, RunID: "r1", Status: StatusSucceeded})
}

func TestStateFor(t *testing.T) {
	require.Equal(t, "success", StateFor(StatusSucceeded))
	require.Equal(t, "failure", StateFor(StatusFailed))
	require.Equal(t, "error", StateFor(StatusSkipped))
	require.Equal(t, "pending", StateFor(StatusRunning))
}

func TestCombine(t *testing.T) {
	ok := PipelineResult{Triggered: true, Summary: Summary{TotalJobs: 2, JobsPassed: 2, Passed: 3, Duration: time.Second}}
	ok.Status = StatusSucceeded
	bad := PipelineResult{Triggered: true, Summary: Summary{TotalJobs: 1, JobsFailed: 1, Failed: 1, Duration: time.Second}}
	bad.Status = StatusFailed
	idle := PipelineResult{Summary: Summary{TotalJobs: 9}}

	total := Combine([]PipelineResult{ok, bad, idle})
	require.Equal(t, 3, total.TotalJobs)
	require.Equal(t, 2, total.JobsPassed)
	require.Equal(t, 1, total.JobsFailed)
	require.Equal(t, 3, total.Passed)
	require.Equal(t, int64(2000), total.DurationMS)
	require.Equal(t, 1, total.ExitCode)
}
