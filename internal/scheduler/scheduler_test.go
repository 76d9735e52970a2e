package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bgricker/localci/internal/graph"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
	"github.com/stretchr/testify/require"
)

func job(id string, needs ...string) provider.Job {
	return provider.Job{ID: id, Needs: needs, Steps: []provider.Step{{Name: "s", Run: "true", Kind: provider.ActionRun}}}
}

func buildGraph(t *testing.T, jobs ...provider.Job) *graph.Graph {
	t.Helper()
	g, err := graph.Build(jobs)
	require.NoError(t, err)
	return g
}

func finished(job provider.Job, status report.Status, detail string) report.JobResult {
	res := report.JobResult{ID: job.ID, Name: job.DisplayName()}
	_ = res.Start(time.Now())
	_ = res.Finish(status, detail, time.Now())
	return res
}

func byID(results []report.JobResult) map[string]report.JobResult {
	out := make(map[string]report.JobResult, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out
}

func TestRunWaveConcurrent(t *testing.T) {
	g := buildGraph(t, job("build_and_test"), job("rustfmt"))

	var started sync.WaitGroup
	started.Add(2)
	runner := JobRunnerFunc(func(ctx context.Context, j provider.Job) report.JobResult {
		started.Done()
		// both jobs must be running at once for this to return
		started.Wait()
		return finished(j, report.StatusSucceeded, "")
	})

	results := New(runner, Options{}).Run(context.Background(), g)
	require.Len(t, results, 2)
	require.Equal(t, "build_and_test", results[0].ID)
	require.Equal(t, report.StatusSucceeded, report.AggregateJobs(results))
}

func TestFailFastSkipsLaterWaves(t *testing.T) {
	g := buildGraph(t, job("build"), job("lint"), job("test", "build"), job("release", "lint", "test"))

	var ran sync.Map
	runner := JobRunnerFunc(func(ctx context.Context, j provider.Job) report.JobResult {
		ran.Store(j.ID, true)
		if j.ID == "build" {
			return finished(j, report.StatusFailed, `step "compile" failed`)
		}
		return finished(j, report.StatusSucceeded, "")
	})

	rec := &report.Recorder{}
	results := New(runner, Options{RunID: "r", Sink: rec}).Run(context.Background(), g)
	got := byID(results)

	require.Equal(t, report.StatusFailed, got["build"].Status)
	require.Equal(t, report.StatusSucceeded, got["lint"].Status)
	require.Equal(t, report.StatusSkipped, got["test"].Status)
	require.Equal(t, DetailHalted, got["test"].Detail)
	require.Equal(t, report.StatusSkipped, got["release"].Status)
	require.Equal(t, report.StatusSkipped, got["release"].Steps[0].Status)
	require.True(t, got["test"].StartedAt.IsZero())

	_, testRan := ran.Load("test")
	require.False(t, testRan)
	require.Len(t, rec.Filter(report.EventJobFinished), 4)
	require.Equal(t, 1, got["test"].Wave)
}

func TestMaxParallelBoundsConcurrency(t *testing.T) {
	g := buildGraph(t, job("a"), job("b"), job("c"), job("d"))

	var running, peak int32
	runner := JobRunnerFunc(func(ctx context.Context, j provider.Job) report.JobResult {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return finished(j, report.StatusSucceeded, "")
	})

	results := New(runner, Options{MaxParallel: 2}).Run(context.Background(), g)
	require.Len(t, results, 4)
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCancelSkipsPendingJobs(t *testing.T) {
	g := buildGraph(t, job("build_and_test"), job("rustfmt"), job("deploy", "build_and_test"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran int32
	runner := JobRunnerFunc(func(ctx context.Context, j provider.Job) report.JobResult {
		atomic.AddInt32(&ran, 1)
		// the first job to get the slot is mid-step when the cancellation arrives
		cancel()
		<-ctx.Done()
		return finished(j, report.StatusFailed, report.DetailCancelled)
	})

	// one slot: the other wave-0 job is still pending when cancellation lands
	results := New(runner, Options{MaxParallel: 1}).Run(ctx, g)
	got := byID(results)

	require.EqualValues(t, 1, atomic.LoadInt32(&ran))
	statuses := map[report.Status]int{}
	for _, id := range []string{"build_and_test", "rustfmt"} {
		statuses[got[id].Status]++
		require.Equal(t, report.DetailCancelled, got[id].Detail)
	}
	require.Equal(t, map[report.Status]int{report.StatusFailed: 1, report.StatusSkipped: 1}, statuses)
	require.Equal(t, report.StatusSkipped, got["deploy"].Status)
	require.Equal(t, report.DetailCancelled, got["deploy"].Detail)
	require.Equal(t, report.StatusFailed, report.AggregateJobs(results))
}

func TestDryRunDispatchesEveryWave(t *testing.T) {
	g := buildGraph(t, job("a"), job("b", "a"))
	var calls int32
	runner := JobRunnerFunc(func(ctx context.Context, j provider.Job) report.JobResult {
		atomic.AddInt32(&calls, 1)
		res := report.JobResult{ID: j.ID}
		_ = res.Skip(report.DetailDryRun)
		return res
	})
	results := New(runner, Options{DryRun: true}).Run(context.Background(), g)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.Equal(t, report.DetailDryRun, byID(results)["b"].Detail)
}
