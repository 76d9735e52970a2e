// Package graph validates a workflow's job declarations and partitions them
// into waves: every job's dependencies complete in an earlier wave.
package graph

import (
	"container/heap"
	"sort"

	"github.com/bgricker/localci/internal/provider"
)

// Graph is an immutable, validated job dependency graph. It is safe for
// concurrent read access.
type Graph struct {
	jobs  []provider.Job // canonical order (by id)
	index map[string]int

	outgoing [][]int // dependency -> dependents, sorted
	incoming [][]int // dependent -> dependencies, sorted
	indeg    []int
	depth    []int
}

// Build validates jobs and returns their graph. It rejects empty and
// duplicate ids, unknown and self dependencies, and any cycle.
func Build(jobs []provider.Job) (*Graph, error) {
	if len(jobs) == 0 {
		return nil, invalidf("no jobs")
	}

	sorted := make([]provider.Job, len(jobs))
	copy(sorted, jobs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[string]int, len(sorted))
	for i, job := range sorted {
		if job.ID == "" {
			return nil, invalidf("job id is required")
		}
		if _, exists := index[job.ID]; exists {
			return nil, invalidf("duplicate job %q", job.ID)
		}
		index[job.ID] = i
	}

	g := &Graph{
		jobs:     sorted,
		index:    index,
		outgoing: make([][]int, len(sorted)),
		incoming: make([][]int, len(sorted)),
		indeg:    make([]int, len(sorted)),
	}

	for i, job := range sorted {
		seen := make(map[int]struct{}, len(job.Needs))
		for _, need := range job.Needs {
			dep, ok := index[need]
			if !ok {
				return nil, invalidf("job %q needs unknown job %q", job.ID, need)
			}
			if dep == i {
				return nil, invalidf("job %q needs itself", job.ID)
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			g.outgoing[dep] = append(g.outgoing[dep], i)
			g.incoming[i] = append(g.incoming[i], dep)
			g.indeg[i]++
		}
	}
	for i := range sorted {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Len returns the number of jobs.
func (g *Graph) Len() int { return len(g.jobs) }

// Job returns a job by id.
func (g *Graph) Job(id string) (provider.Job, bool) {
	i, ok := g.index[id]
	if !ok {
		return provider.Job{}, false
	}
	return g.jobs[i], true
}

// Jobs returns the jobs in canonical (id) order.
func (g *Graph) Jobs() []provider.Job {
	out := make([]provider.Job, len(g.jobs))
	copy(out, g.jobs)
	return out
}

// Dependencies returns the sorted ids a job needs.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.incoming[i])
}

// Dependents returns the sorted ids that need a job.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.outgoing[i])
}

// Wave returns the zero-based wave a job runs in: the length of the longest
// dependency path leading to it.
func (g *Graph) Wave(id string) (int, bool) {
	i, ok := g.index[id]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// Waves partitions the jobs by depth. Ids within a wave are sorted.
func (g *Graph) Waves() [][]string {
	maxDepth := 0
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	waves := make([][]string, maxDepth+1)
	for i, job := range g.jobs {
		d := g.depth[i]
		waves[d] = append(waves[d], job.ID)
	}
	return waves
}

// Order returns a deterministic topological ordering of job ids.
func (g *Graph) Order() []string {
	return g.names(g.topoOrderIndices())
}

func (g *Graph) names(idx []int) []string {
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.jobs[i].ID)
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.jobs))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > depth[u] {
				depth[u] = cand
			}
		}
	}
	return depth
}

// validateAcyclic runs Kahn's algorithm; when some jobs never become ready it
// extracts one cycle for the error message.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.jobs) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks dependency edges depth-first in id order and returns the
// first cycle found, closed on its starting job: a -> b -> a.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.jobs))
	parent := make([]int, len(g.jobs))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.incoming[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v: walk parents from u back to v
				path := []int{u}
				for cur := parent[u]; cur != -1 && path[len(path)-1] != v; cur = parent[cur] {
					path = append(path, cur)
				}
				for i := len(path) - 1; i >= 0; i-- {
					cycle = append(cycle, path[i])
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.jobs {
		if color[i] == white && dfs(i) {
			break
		}
	}
	return g.names(cycle)
}
