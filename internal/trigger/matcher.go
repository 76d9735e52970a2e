// Package trigger decides whether a source-control event activates a workflow.
package trigger

import (
	"fmt"
	"strings"

	"github.com/bgricker/localci/internal/provider"
)

// Kind is a source-control event kind.
type Kind string

const (
	Push        Kind = "push"
	PullRequest Kind = "pull_request"
)

// Event is an immutable source-control notification.
type Event struct {
	Kind   Kind   `json:"kind"`
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
}

func (e Event) String() string {
	if e.Commit == "" {
		return fmt.Sprintf("%s@%s", e.Kind, e.Branch)
	}
	return fmt.Sprintf("%s@%s (%s)", e.Kind, e.Branch, e.Commit)
}

// Rule activates a workflow for one event kind on a set of branches.
// A nil Branches set with Any=true matches every branch.
type Rule struct {
	Kind     Kind
	Branches map[string]struct{}
	Any      bool
}

// ParseKind validates an event kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case Push, PullRequest:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q (expected push or pull_request)", s)
	}
}

// RulesFrom converts declared trigger rules. Event kinds outside push and
// pull_request are kept; they simply never match an Event.
func RulesFrom(decl []provider.TriggerRule) []Rule {
	rules := make([]Rule, 0, len(decl))
	for _, d := range decl {
		r := Rule{Kind: Kind(d.Event), Any: d.AllBranches}
		if len(d.Branches) > 0 {
			r.Branches = make(map[string]struct{}, len(d.Branches))
			for _, b := range d.Branches {
				r.Branches[b] = struct{}{}
			}
		}
		rules = append(rules, r)
	}
	return rules
}

// Match reports whether some rule covers the event's kind and branch.
// Branch patterns compare by exact string equality. A rule declared without
// a branch filter (Any) matches every non-empty branch, as `on: push` does on
// GitHub; an event without a branch never matches.
func Match(ev Event, rules []Rule) bool {
	if ev.Branch == "" {
		return false
	}
	for _, r := range rules {
		if r.Kind != ev.Kind {
			continue
		}
		if r.Any {
			return true
		}
		if _, ok := r.Branches[ev.Branch]; ok {
			return true
		}
	}
	return false
}

// MatchWorkflow is Match over the workflow's declared triggers.
func MatchWorkflow(ev Event, wf provider.Workflow) bool {
	return Match(ev, RulesFrom(wf.Triggers))
}
