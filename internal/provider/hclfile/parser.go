// Package hclfile decodes pipeline declarations written in HCL.
//
// The block layout mirrors the GitHub Actions model: top-level `on` blocks
// labelled by event kind, `job` blocks labelled by job id, and `step` blocks
// labelled by step name inside each job.
package hclfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bgricker/localci/internal/provider"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const ProviderName = "hcl"

// Parser loads HCL pipeline files from disk.
type Parser struct {
	Root string
}

// NewParser constructs a Parser that resolves paths relative to root.
func NewParser(root string) *Parser {
	return &Parser{Root: root}
}

// Parse reads the supplied HCL files and produces a Pipeline data model.
func (p *Parser) Parse(paths []string) (provider.Pipeline, error) {
	pipeline := provider.Pipeline{Provider: ProviderName}
	for _, relPath := range paths {
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.Root, relPath)
		}
		src, err := os.ReadFile(full)
		if err != nil {
			return provider.Pipeline{}, fmt.Errorf("open pipeline %q: %w", relPath, err)
		}
		wf, warnings, err := decodeFile(src, relPath)
		if err != nil {
			return provider.Pipeline{}, err
		}
		pipeline.Workflows = append(pipeline.Workflows, wf)
		pipeline.Warnings = append(pipeline.Warnings, warnings...)
	}
	return pipeline, nil
}

type fileDocument struct {
	Name             string            `hcl:"name,optional"`
	Env              map[string]string `hcl:"env,optional"`
	Shell            string            `hcl:"shell,optional"`
	WorkingDirectory string            `hcl:"working_directory,optional"`
	Triggers         []triggerBlock    `hcl:"on,block"`
	Jobs             []jobBlock        `hcl:"job,block"`
}

type triggerBlock struct {
	Event    string   `hcl:"event,label"`
	Branches []string `hcl:"branches,optional"`
}

type jobBlock struct {
	ID               string            `hcl:"id,label"`
	Name             string            `hcl:"name,optional"`
	RunsOn           string            `hcl:"runs_on,optional"`
	Needs            []string          `hcl:"needs,optional"`
	Env              map[string]string `hcl:"env,optional"`
	Shell            string            `hcl:"shell,optional"`
	WorkingDirectory string            `hcl:"working_directory,optional"`
	TimeoutMinutes   int               `hcl:"timeout_minutes,optional"`
	Steps            []stepBlock       `hcl:"step,block"`
}

type stepBlock struct {
	Name             string            `hcl:"name,label"`
	Uses             string            `hcl:"uses,optional"`
	Run              string            `hcl:"run,optional"`
	With             cty.Value         `hcl:"with,optional"`
	Env              map[string]string `hcl:"env,optional"`
	Shell            string            `hcl:"shell,optional"`
	WorkingDirectory string            `hcl:"working_directory,optional"`
	TimeoutMinutes   int               `hcl:"timeout_minutes,optional"`
}

func decodeFile(src []byte, displayPath string) (provider.Workflow, []provider.Warning, error) {
	var doc fileDocument
	if err := hclsimple.Decode(displayPath, src, nil, &doc); err != nil {
		return provider.Workflow{}, nil, fmt.Errorf("parse pipeline %q: %w", displayPath, err)
	}

	wf := provider.Workflow{
		Path: displayPath,
		Name: doc.Name,
		Env:  nonEmpty(doc.Env),
		Defaults: provider.Defaults{
			RunShell:         doc.Shell,
			WorkingDirectory: doc.WorkingDirectory,
		},
	}
	if wf.Name == "" {
		wf.Name = filepath.Base(displayPath)
	}

	for _, t := range doc.Triggers {
		rule := provider.TriggerRule{Event: t.Event, Branches: t.Branches}
		if len(t.Branches) == 0 {
			rule.AllBranches = true
		}
		wf.Triggers = append(wf.Triggers, rule)
	}

	var warnings []provider.Warning
	wf.Jobs = make([]provider.Job, 0, len(doc.Jobs))
	for _, jb := range doc.Jobs {
		job := provider.Job{
			ID:             jb.ID,
			Name:           jb.Name,
			RunsOn:         jb.RunsOn,
			Needs:          jb.Needs,
			Env:            nonEmpty(jb.Env),
			TimeoutMinutes: jb.TimeoutMinutes,
			Defaults: provider.Defaults{
				RunShell:         jb.Shell,
				WorkingDirectory: jb.WorkingDirectory,
			},
		}
		if job.Name == "" {
			job.Name = jb.ID
		}
		for _, sb := range jb.Steps {
			with, err := stringMap(sb.With)
			if err != nil {
				return provider.Workflow{}, nil, fmt.Errorf("parse pipeline %q: job %q step %q: %w", displayPath, jb.ID, sb.Name, err)
			}
			step := provider.Step{
				Name:             sb.Name,
				Kind:             provider.Classify(sb.Uses, sb.Run),
				Uses:             sb.Uses,
				Run:              sb.Run,
				With:             with,
				Env:              nonEmpty(sb.Env),
				Shell:            sb.Shell,
				WorkingDirectory: sb.WorkingDirectory,
				TimeoutMinutes:   sb.TimeoutMinutes,
			}
			if step.Kind == provider.ActionUnsupported {
				warnings = append(warnings, provider.Warning{
					Workflow: displayPath,
					Job:      jb.ID,
					Message:  fmt.Sprintf("step %q uses unsupported action %q; step dropped", sb.Name, sb.Uses),
				})
				continue
			}
			job.Steps = append(job.Steps, step)
		}
		wf.Jobs = append(wf.Jobs, job)
	}

	// Stable sort keeps duplicate ids adjacent for the graph builder to report.
	sort.SliceStable(wf.Jobs, func(i, j int) bool { return wf.Jobs[i].ID < wf.Jobs[j].ID })

	return wf, warnings, nil
}

// stringMap flattens an HCL object or map into string parameters.
func stringMap(v cty.Value) (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("with: value must be known")
	}
	if !v.CanIterateElements() || v.Type().IsListType() || v.Type().IsTupleType() || v.Type().IsSetType() {
		return nil, fmt.Errorf("with: expected an object, got %s", v.Type().FriendlyName())
	}
	out := make(map[string]string, v.LengthInt())
	it := v.ElementIterator()
	for it.Next() {
		k, ev := it.Element()
		key := k.AsString()
		if ev.IsNull() {
			out[key] = ""
			continue
		}
		sv, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("with.%s: %w", key, err)
		}
		out[key] = sv.AsString()
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
