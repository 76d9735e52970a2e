package provider

import "strings"

// Pipeline represents a parsed set of workflows from a provider.
type Pipeline struct {
	Provider  string     `json:"provider"`
	Workflows []Workflow `json:"workflows"`
	Warnings  []Warning  `json:"warnings"`
}

// Warning captures non-fatal issues encountered while parsing workflows.
type Warning struct {
	Workflow string `json:"workflow"`
	Job      string `json:"job"`
	Message  string `json:"message"`
}

// Workflow is a statically declared pipeline: trigger rules plus a set of jobs.
type Workflow struct {
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Triggers []TriggerRule     `json:"triggers,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Defaults Defaults          `json:"defaults"`
	Jobs     []Job             `json:"jobs"`
}

// TriggerRule activates the workflow for an event kind on the listed branches.
// AllBranches is set when the declaration names the event without a branch filter.
type TriggerRule struct {
	Event       string   `json:"event"`
	Branches    []string `json:"branches,omitempty"`
	AllBranches bool     `json:"all_branches,omitempty"`
}

// Defaults capture shared configuration for jobs and steps.
type Defaults struct {
	RunShell         string `json:"run_shell,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Job is an independently schedulable unit of ordered steps.
type Job struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	RunsOn         string            `json:"runs_on,omitempty"`
	Needs          []string          `json:"needs,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Defaults       Defaults          `json:"defaults"`
	TimeoutMinutes int               `json:"timeout_minutes,omitempty"`
	Steps          []Step            `json:"steps"`
}

// Step is a single action within a job.
type Step struct {
	Name             string            `json:"name"`
	Kind             ActionKind        `json:"kind"`
	Uses             string            `json:"uses,omitempty"`
	Run              string            `json:"run,omitempty"`
	With             map[string]string `json:"with,omitempty"`
	Shell            string            `json:"shell,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	TimeoutMinutes   int               `json:"timeout_minutes,omitempty"`
}

// ActionKind tags the closed set of step actions the executor knows how to run.
type ActionKind string

const (
	ActionCheckout ActionKind = "checkout"
	ActionSetup    ActionKind = "setup"
	ActionCache    ActionKind = "cache"
	ActionRun      ActionKind = "run"
	// ActionUnsupported marks a `uses` reference outside the closed set.
	ActionUnsupported ActionKind = "unsupported"
)

var setupActions = []string{
	"actions/setup-",
	"dtolnay/rust-toolchain",
	"actions-rs/toolchain",
	"ruby/setup-ruby",
}

var cacheActions = []string{
	"actions/cache",
	"swatinem/rust-cache",
}

// Classify determines the action kind for a step from its uses/run fields.
// A run script always wins; a uses reference is matched without its @ref suffix.
func Classify(uses, run string) ActionKind {
	if strings.TrimSpace(run) != "" {
		return ActionRun
	}
	ref := strings.ToLower(strings.TrimSpace(ActionName(uses)))
	if ref == "" {
		return ActionUnsupported
	}
	if ref == "actions/checkout" {
		return ActionCheckout
	}
	for _, prefix := range cacheActions {
		if ref == prefix || strings.HasPrefix(ref, prefix+"/") {
			return ActionCache
		}
	}
	for _, prefix := range setupActions {
		if strings.HasPrefix(ref, prefix) {
			return ActionSetup
		}
	}
	return ActionUnsupported
}

// ActionName strips the version reference from a uses value.
func ActionName(uses string) string {
	if idx := strings.Index(uses, "@"); idx != -1 {
		return uses[:idx]
	}
	return uses
}

// DisplayName returns the job name, falling back to its id.
func (j Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}
