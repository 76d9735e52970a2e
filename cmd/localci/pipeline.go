package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/localci/internal/config"
	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/discovery"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/provider/filter"
	githubprovider "github.com/bgricker/localci/internal/provider/github"
	"github.com/bgricker/localci/internal/provider/hclfile"
	"github.com/bgricker/localci/internal/trigger"
	"github.com/bgricker/localci/internal/version"
)

// pipelineData bundles parsed workflows with warnings and metadata.
type pipelineData struct {
	provider  string
	workflows []provider.Workflow
	warnings  []provider.Warning
}

func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", fmt.Errorf("determine working directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return config.Config{}, "", err
	}

	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	config.ApplyFlags(&cfg, flags)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, root, nil
}

// commandContext attaches the configured logger to the command's context.
func commandContext(cmd *cobra.Command, cfg config.Config) context.Context {
	logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return ctxlog.WithLogger(cmd.Context(), logger)
}

func loadPipeline(ctx context.Context, root string, cfg config.Config) (pipelineData, error) {
	yamlPaths, hclPaths, err := discoverPaths(root, cfg)
	if err != nil {
		return pipelineData{}, err
	}

	data := pipelineData{provider: cfg.Provider}
	if len(yamlPaths) > 0 {
		pipeline, err := githubprovider.NewParser(root).Parse(yamlPaths)
		if err != nil {
			return pipelineData{}, err
		}
		data.workflows = append(data.workflows, pipeline.Workflows...)
		data.warnings = append(data.warnings, pipeline.Warnings...)
	}
	if len(hclPaths) > 0 {
		pipeline, err := hclfile.NewParser(root).Parse(hclPaths)
		if err != nil {
			return pipelineData{}, err
		}
		data.workflows = append(data.workflows, pipeline.Workflows...)
		data.warnings = append(data.warnings, pipeline.Warnings...)
	}
	if data.provider == config.ProviderAuto {
		data.provider = autoProviderName(yamlPaths, hclPaths)
	}
	data.warnings = append(data.warnings, detectVersionWarnings(ctx, root, cfg)...)
	return data, nil
}

// discoverPaths splits the workflow files to parse by provider. Explicit
// files are routed by extension when the provider is auto.
func discoverPaths(root string, cfg config.Config) (yamlPaths, hclPaths []string, err error) {
	wrap := func(err error) error {
		if errors.Is(err, discovery.ErrNoWorkflows) {
			return fmt.Errorf("no workflows found; specify --workflow to provide files")
		}
		return err
	}

	switch cfg.Provider {
	case config.ProviderGitHub:
		yamlPaths, err = discovery.Workflows(root, cfg.Workflows)
		return yamlPaths, nil, wrap(err)
	case config.ProviderHCL:
		hclPaths, err = discovery.Pipelines(root, cfg.Workflows)
		return nil, hclPaths, wrap(err)
	}

	if len(cfg.Workflows) > 0 {
		paths, err := discovery.Workflows(root, cfg.Workflows)
		if err != nil {
			return nil, nil, wrap(err)
		}
		for _, p := range paths {
			if discovery.IsHCL(p) {
				hclPaths = append(hclPaths, p)
			} else {
				yamlPaths = append(yamlPaths, p)
			}
		}
		return yamlPaths, hclPaths, nil
	}

	yamlPaths, yamlErr := discovery.Workflows(root, nil)
	hclPaths, hclErr := discovery.Pipelines(root, nil)
	for _, e := range []error{yamlErr, hclErr} {
		if e != nil && !errors.Is(e, discovery.ErrNoWorkflows) {
			return nil, nil, e
		}
	}
	if len(yamlPaths) == 0 && len(hclPaths) == 0 {
		return nil, nil, wrap(discovery.ErrNoWorkflows)
	}
	return yamlPaths, hclPaths, nil
}

func autoProviderName(yamlPaths, hclPaths []string) string {
	switch {
	case len(hclPaths) == 0:
		return config.ProviderGitHub
	case len(yamlPaths) == 0:
		return config.ProviderHCL
	default:
		return config.ProviderAuto
	}
}

func applyFilters(data pipelineData, cfg config.Config) (pipelineData, error) {
	jobPatterns, err := filter.Compile(cfg.Jobs)
	if err != nil {
		return pipelineData{}, err
	}
	onlyPatterns, err := filter.Compile(cfg.OnlySteps)
	if err != nil {
		return pipelineData{}, err
	}
	skipPatterns, err := filter.Compile(cfg.SkipSteps)
	if err != nil {
		return pipelineData{}, err
	}

	filtered := filter.FilterWorkflows(data.workflows, jobPatterns, onlyPatterns, skipPatterns)
	return pipelineData{provider: data.provider, workflows: filtered, warnings: data.warnings}, nil
}

// versionFiles maps repository version pins to the toolchain they pin.
var versionFiles = []struct {
	file string
	tool string
}{
	{".ruby-version", "ruby"},
	{".node-version", "node"},
	{".python-version", "python"},
	{".go-version", "go"},
}

func detectVersionWarnings(ctx context.Context, root string, cfg config.Config) []provider.Warning {
	if !cfg.Warn.VersionMismatch {
		return nil
	}

	var warnings []provider.Warning
	for _, vf := range versionFiles {
		contents, err := os.ReadFile(filepath.Join(root, vf.file))
		if err != nil {
			continue
		}
		required := strings.TrimSpace(string(contents))
		tc, ok := version.Lookup(vf.tool)
		if required == "" || !ok {
			continue
		}
		info, detectErr := version.Detect(ctx, tc)
		if warn := buildVersionWarning(vf.tool, vf.file, required, info.Version, detectErr); warn != "" {
			warnings = append(warnings, provider.Warning{Workflow: vf.file, Message: warn})
		}
	}
	return warnings
}

func buildVersionWarning(name, file, required, actual string, detectErr error) string {
	if detectErr != nil {
		if version.Missing(detectErr) {
			return fmt.Sprintf("%s executable not found; required %s", name, required)
		}
		return fmt.Sprintf("unable to detect %s version: %v", name, detectErr)
	}
	if !version.CompareMajorMinor(required, actual) {
		return fmt.Sprintf("%s version mismatch: required %s (from %s) but found %s", name, required, file, actual)
	}
	return ""
}

func collapseWarnings(warnings []provider.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, fmt.Sprintf("%s:%s: %s", w.Workflow, w.Job, w.Message))
	}
	return out
}

// resolveEvent fills the branch and commit from the repository when the
// configuration leaves them empty.
func resolveEvent(ctx context.Context, root string, ev config.EventConfig) (trigger.Event, error) {
	kind, err := trigger.ParseKind(ev.Kind)
	if err != nil {
		return trigger.Event{}, err
	}
	out := trigger.Event{Kind: kind, Branch: ev.Branch, Commit: ev.Commit}
	if out.Branch == "" {
		out.Branch = gitOutput(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
	}
	if out.Commit == "" {
		out.Commit = gitOutput(ctx, root, "rev-parse", "HEAD")
	}
	if out.Branch == "" || out.Branch == "HEAD" {
		return trigger.Event{}, fmt.Errorf("cannot determine the current branch; pass --branch")
	}
	return out, nil
}

func gitOutput(ctx context.Context, root string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
