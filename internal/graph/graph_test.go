package graph

import (
	"errors"
	"testing"

	"github.com/bgricker/localci/internal/provider"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func job(id string, needs ...string) provider.Job {
	return provider.Job{ID: id, Needs: needs, Steps: []provider.Step{{Name: "s", Run: "true", Kind: provider.ActionRun}}}
}

func TestWavesIndependentJobs(t *testing.T) {
	g, err := Build([]provider.Job{job("rustfmt"), job("build_and_test")})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"build_and_test", "rustfmt"}}, g.Waves())
}

func TestWavesLongestPath(t *testing.T) {
	g, err := Build([]provider.Job{
		job("release", "lint", "test"),
		job("test", "build"),
		job("build"),
		job("lint"),
	})
	require.NoError(t, err)

	want := [][]string{{"build", "lint"}, {"test"}, {"release"}}
	if diff := cmp.Diff(want, g.Waves()); diff != "" {
		t.Fatalf("waves mismatch (-want +got):\n%s", diff)
	}
	w, ok := g.Wave("release")
	require.True(t, ok)
	require.Equal(t, 2, w)
	require.Equal(t, []string{"lint", "test"}, g.Dependencies("release"))
	require.Equal(t, []string{"test"}, g.Dependents("build"))
	require.Equal(t, []string{"build", "lint", "test", "release"}, g.Order())
}

func TestBuildIdempotent(t *testing.T) {
	jobs := []provider.Job{job("c", "a"), job("a"), job("b", "a"), job("d", "b", "c")}
	first, err := Build(jobs)
	require.NoError(t, err)
	second, err := Build(jobs)
	require.NoError(t, err)
	if diff := cmp.Diff(first.Waves(), second.Waves()); diff != "" {
		t.Fatalf("waves differ between builds:\n%s", diff)
	}
	require.Equal(t, first.Order(), second.Order())
}

func TestBuildDoesNotReorderInput(t *testing.T) {
	jobs := []provider.Job{job("b"), job("a")}
	_, err := Build(jobs)
	require.NoError(t, err)
	require.Equal(t, "b", jobs[0].ID)
}

func TestBuildCycle(t *testing.T) {
	_, err := Build([]provider.Job{job("a", "b"), job("b", "a")})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCycle))
	require.True(t, errors.Is(err, ErrConfig))
	require.Contains(t, err.Error(), "a -> b -> a")

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
}

func TestBuildIndirectCycle(t *testing.T) {
	_, err := Build([]provider.Job{job("a", "c"), job("b", "a"), job("c", "b"), job("d")})
	require.ErrorIs(t, err, ErrCycle)
	require.Contains(t, err.Error(), "a -> c -> b -> a")
}

func TestBuildInvalid(t *testing.T) {
	cases := map[string][]provider.Job{
		"no jobs":         nil,
		"empty id":        {job("")},
		"duplicate":       {job("a"), job("a")},
		"unknown need":    {job("a", "missing")},
		"self dependency": {job("a", "a")},
	}
	for name, jobs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(jobs)
			require.ErrorIs(t, err, ErrInvalidGraph)
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestDuplicateNeedsCollapsed(t *testing.T) {
	g, err := Build([]provider.Job{job("a"), job("b", "a", "a")})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, g.Dependencies("b"))
}

func TestJobLookup(t *testing.T) {
	g, err := Build([]provider.Job{job("a")})
	require.NoError(t, err)
	got, ok := g.Job("a")
	require.True(t, ok)
	require.Equal(t, "a", got.ID)
	_, ok = g.Job("zzz")
	require.False(t, ok)
	require.Equal(t, 1, g.Len())
}
