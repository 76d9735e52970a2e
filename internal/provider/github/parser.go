package github

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bgricker/localci/internal/provider"
	"gopkg.in/yaml.v3"
)

const ProviderName = "github"

// Parser loads GitHub Actions workflow files from disk.
type Parser struct {
	Root string
}

// NewParser constructs a Parser that resolves workflow paths relative to root.
func NewParser(root string) *Parser {
	return &Parser{Root: root}
}

// Parse reads the supplied workflow paths and produces a Pipeline data model.
func (p *Parser) Parse(paths []string) (provider.Pipeline, error) {
	pipeline := provider.Pipeline{Provider: ProviderName}
	for _, relPath := range paths {
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.Root, relPath)
		}
		wf, warnings, err := parseWorkflow(full, relPath)
		if err != nil {
			return provider.Pipeline{}, err
		}
		pipeline.Workflows = append(pipeline.Workflows, wf)
		pipeline.Warnings = append(pipeline.Warnings, warnings...)
	}
	return pipeline, nil
}

func parseWorkflow(fullPath, displayPath string) (provider.Workflow, []provider.Warning, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return provider.Workflow{}, nil, fmt.Errorf("open workflow %q: %w", displayPath, err)
	}
	defer f.Close()
	return decodeWorkflow(f, displayPath)
}

func decodeWorkflow(r io.Reader, displayPath string) (provider.Workflow, []provider.Warning, error) {
	decoder := yaml.NewDecoder(r)

	var wfDoc workflowDocument
	if err := decoder.Decode(&wfDoc); err != nil {
		if err == io.EOF {
			return provider.Workflow{}, nil, fmt.Errorf("parse workflow %q: empty document", displayPath)
		}
		return provider.Workflow{}, nil, fmt.Errorf("parse workflow %q: %w", displayPath, err)
	}

	triggers, err := decodeTriggers(&wfDoc.On)
	if err != nil {
		return provider.Workflow{}, nil, fmt.Errorf("parse workflow %q: %w", displayPath, err)
	}

	wf := provider.Workflow{
		Path:     displayPath,
		Name:     wfDoc.Name,
		Triggers: triggers,
		Env:      convertEnv(wfDoc.Env),
		Defaults: provider.Defaults{
			RunShell:         wfDoc.Defaults.Run.Shell,
			WorkingDirectory: wfDoc.Defaults.Run.WorkingDirectory,
		},
	}

	if wf.Name == "" {
		wf.Name = filepath.Base(displayPath)
	}

	warnings := make([]provider.Warning, 0)

	jobIDs := make([]string, 0, len(wfDoc.Jobs))
	for id := range wfDoc.Jobs {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	wf.Jobs = make([]provider.Job, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		jobDoc := wfDoc.Jobs[jobID]
		job := provider.Job{
			ID:             jobID,
			Name:           jobDoc.Name,
			RunsOn:         runsOn(jobDoc.RunsOn),
			Needs:          []string(jobDoc.Needs),
			Env:            convertEnv(jobDoc.Env),
			TimeoutMinutes: jobDoc.TimeoutMinutes,
			Defaults: provider.Defaults{
				RunShell:         jobDoc.Defaults.Run.Shell,
				WorkingDirectory: jobDoc.Defaults.Run.WorkingDirectory,
			},
		}
		if job.Name == "" {
			job.Name = jobID
		}

		if jobDoc.Services != nil {
			warnings = append(warnings, provider.Warning{
				Workflow: displayPath,
				Job:      jobID,
				Message:  "services are not supported",
			})
		}
		if jobDoc.Strategy.Matrix != nil {
			warnings = append(warnings, provider.Warning{
				Workflow: displayPath,
				Job:      jobID,
				Message:  "strategy.matrix is not supported",
			})
		}
		if jobDoc.If != "" {
			warnings = append(warnings, provider.Warning{
				Workflow: displayPath,
				Job:      jobID,
				Message:  "job-level if condition is ignored",
			})
		}

		job.Steps = make([]provider.Step, 0, len(jobDoc.Steps))
		for idx, stepDoc := range jobDoc.Steps {
			step := provider.Step{
				Name:             stepDoc.Name,
				Kind:             provider.Classify(stepDoc.Uses, stepDoc.Run),
				Run:              stepDoc.Run,
				Uses:             stepDoc.Uses,
				With:             convertEnv(stepDoc.With),
				Env:              convertEnv(stepDoc.Env),
				Shell:            stepDoc.Shell,
				WorkingDirectory: stepDoc.WorkingDirectory,
				TimeoutMinutes:   stepDoc.TimeoutMinutes,
			}
			if step.Name == "" {
				step.Name = defaultStepName(step, idx)
			}
			if step.Kind == provider.ActionUnsupported {
				warnings = append(warnings, provider.Warning{
					Workflow: displayPath,
					Job:      jobID,
					Message:  fmt.Sprintf("step %q uses unsupported action %q; step dropped", step.Name, step.Uses),
				})
				continue
			}
			if stepDoc.If != "" {
				warnings = append(warnings, provider.Warning{
					Workflow: displayPath,
					Job:      jobID,
					Message:  fmt.Sprintf("step %q has unsupported if condition", step.Name),
				})
			}
			job.Steps = append(job.Steps, step)
		}

		wf.Jobs = append(wf.Jobs, job)
	}

	return wf, warnings, nil
}

// defaultStepName names an unnamed step. The position keeps names unique
// within a job, so repeated actions get distinct results and log files.
func defaultStepName(step provider.Step, idx int) string {
	if step.Kind != provider.ActionRun && step.Uses != "" {
		return fmt.Sprintf("%s #%d", step.Uses, idx+1)
	}
	return fmt.Sprintf("step %d", idx+1)
}

type workflowDocument struct {
	Name     string                 `yaml:"name"`
	On       yaml.Node              `yaml:"on"`
	Env      map[string]interface{} `yaml:"env"`
	Defaults defaultsDocument       `yaml:"defaults"`
	Jobs     map[string]jobDocument `yaml:"jobs"`
}

type defaultsDocument struct {
	Run runDefaults `yaml:"run"`
}

type runDefaults struct {
	Shell            string `yaml:"shell"`
	WorkingDirectory string `yaml:"working-directory"`
}

type jobDocument struct {
	Name           string                 `yaml:"name"`
	RunsOn         stringList             `yaml:"runs-on"`
	Needs          stringList             `yaml:"needs"`
	Env            map[string]interface{} `yaml:"env"`
	Defaults       defaultsDocument       `yaml:"defaults"`
	TimeoutMinutes int                    `yaml:"timeout-minutes"`
	Steps          []stepDocument         `yaml:"steps"`
	Services       interface{}            `yaml:"services"`
	Strategy       strategyDocument       `yaml:"strategy"`
	If             string                 `yaml:"if"`
}

type strategyDocument struct {
	Matrix interface{} `yaml:"matrix"`
}

type stepDocument struct {
	Name             string                 `yaml:"name"`
	Run              string                 `yaml:"run"`
	Uses             string                 `yaml:"uses"`
	With             map[string]interface{} `yaml:"with"`
	Env              map[string]interface{} `yaml:"env"`
	Shell            string                 `yaml:"shell"`
	WorkingDirectory string                 `yaml:"working-directory"`
	TimeoutMinutes   int                    `yaml:"timeout-minutes"`
	If               string                 `yaml:"if"`
}

type triggerDocument struct {
	Branches stringList `yaml:"branches"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" || value.Value == "" {
			*s = nil
			return nil
		}
		*s = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = items
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", value.Line)
	}
}

// decodeTriggers understands the three shapes of the `on` key: a single event,
// a list of events, or a mapping of events to their filters.
func decodeTriggers(node *yaml.Node) ([]provider.TriggerRule, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, nil
		}
		return []provider.TriggerRule{{Event: node.Value, AllBranches: true}}, nil
	case yaml.SequenceNode:
		var events []string
		if err := node.Decode(&events); err != nil {
			return nil, fmt.Errorf("decode on: %w", err)
		}
		rules := make([]provider.TriggerRule, 0, len(events))
		for _, ev := range events {
			rules = append(rules, provider.TriggerRule{Event: ev, AllBranches: true})
		}
		return rules, nil
	case yaml.MappingNode:
		rules := make([]provider.TriggerRule, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			event := node.Content[i].Value
			body := node.Content[i+1]
			rule := provider.TriggerRule{Event: event}
			if body.Kind != yaml.MappingNode {
				rule.AllBranches = true
				rules = append(rules, rule)
				continue
			}
			var doc triggerDocument
			if err := body.Decode(&doc); err != nil {
				return nil, fmt.Errorf("decode on.%s: %w", event, err)
			}
			if len(doc.Branches) == 0 {
				rule.AllBranches = true
			} else {
				rule.Branches = []string(doc.Branches)
			}
			rules = append(rules, rule)
		}
		return rules, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported on: value", node.Line)
	}
}

func runsOn(labels stringList) string {
	if len(labels) == 0 {
		return ""
	}
	out := labels[0]
	for _, l := range labels[1:] {
		out += "," + l
	}
	return out
}

func convertEnv(input map[string]interface{}) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = fmt.Sprint(input[k])
	}
	return out
}
