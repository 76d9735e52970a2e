package github

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bgricker/localci/internal/provider"
)

func TestParserParseBasic(t *testing.T) {
	root := projectRoot(t)
	parser := NewParser(root)
	paths := []string{
		"testdata/workflows/ci_basic.yml",
		"testdata/workflows/ci_envs.yml",
	}

	pipeline, err := parser.Parse(paths)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if pipeline.Provider != ProviderName {
		t.Fatalf("expected provider %q, got %q", ProviderName, pipeline.Provider)
	}

	if len(pipeline.Workflows) != len(paths) {
		t.Fatalf("expected %d workflows, got %d", len(paths), len(pipeline.Workflows))
	}

	basic := pipeline.Workflows[0]
	if basic.Name != "Basic CI" {
		t.Fatalf("expected workflow name 'Basic CI', got %q", basic.Name)
	}
	if len(basic.Triggers) != 1 || basic.Triggers[0].Event != "push" || basic.Triggers[0].Branches[0] != "main" {
		t.Fatalf("unexpected triggers: %+v", basic.Triggers)
	}
	if len(basic.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(basic.Jobs))
	}
	job := basic.Jobs[0]
	if job.ID != "build" {
		t.Fatalf("expected job id 'build', got %q", job.ID)
	}
	if job.Name != "build" {
		t.Fatalf("expected job name fallback to id, got %q", job.Name)
	}
	if job.RunsOn != "ubuntu-latest" {
		t.Fatalf("expected runs-on ubuntu-latest, got %q", job.RunsOn)
	}
	if len(job.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(job.Steps))
	}
	if job.Steps[0].Kind != provider.ActionCheckout {
		t.Fatalf("expected first step to be checkout, got %q", job.Steps[0].Kind)
	}
	if job.Steps[0].Name != "actions/checkout@v4 #1" {
		t.Fatalf("expected uses fallback name, got %q", job.Steps[0].Name)
	}
	if job.Steps[1].Run != "go test ./..." || job.Steps[1].Kind != provider.ActionRun {
		t.Fatalf("expected run command preserved, got %+v", job.Steps[1])
	}

	envWorkflow := pipeline.Workflows[1]
	if len(envWorkflow.Triggers) != 1 || !envWorkflow.Triggers[0].AllBranches {
		t.Fatalf("expected scalar on: to match all branches, got %+v", envWorkflow.Triggers)
	}
	if envWorkflow.Defaults.RunShell != "bash" {
		t.Fatalf("expected workflow default shell bash, got %q", envWorkflow.Defaults.RunShell)
	}
	if envWorkflow.Env["WF_VAR"] != "wf-value" {
		t.Fatalf("unexpected workflow env: %v", envWorkflow.Env)
	}
	if envWorkflow.Env["SHARED"] != "wf" {
		t.Fatalf("workflow env SHARED expected wf, got %q", envWorkflow.Env["SHARED"])
	}

	if len(envWorkflow.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(envWorkflow.Jobs))
	}
	envJob := envWorkflow.Jobs[0]
	if envJob.Env["JOB_VAR"] != "job-value" {
		t.Fatalf("unexpected job env: %v", envJob.Env)
	}
	if envJob.Env["SHARED"] != "job" {
		t.Fatalf("job env SHARED expected job, got %q", envJob.Env["SHARED"])
	}
	if envJob.Defaults.WorkingDirectory != "./app" {
		t.Fatalf("expected job working directory ./app, got %q", envJob.Defaults.WorkingDirectory)
	}
	if len(envJob.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(envJob.Steps))
	}
	step := envJob.Steps[0]
	if step.Env["STEP_VAR"] != "step-value" {
		t.Fatalf("unexpected step env: %v", step.Env)
	}
	if step.Env["SHARED"] != "step" {
		t.Fatalf("step env SHARED expected step, got %q", step.Env["SHARED"])
	}
}

func TestParserRustWorkflow(t *testing.T) {
	root := projectRoot(t)
	pipeline, err := NewParser(root).Parse([]string{"testdata/workflows/rust_ci.yml"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	wf := pipeline.Workflows[0]
	if len(wf.Triggers) != 2 {
		t.Fatalf("expected push and pull_request triggers, got %+v", wf.Triggers)
	}
	for _, rule := range wf.Triggers {
		if rule.AllBranches || len(rule.Branches) != 1 || rule.Branches[0] != "dev" {
			t.Fatalf("expected dev-only rule, got %+v", rule)
		}
	}
	if len(wf.Jobs) != 2 || wf.Jobs[0].ID != "build_and_test" || wf.Jobs[1].ID != "rustfmt" {
		t.Fatalf("unexpected jobs: %+v", wf.Jobs)
	}
	kinds := make([]provider.ActionKind, 0)
	for _, s := range wf.Jobs[0].Steps {
		kinds = append(kinds, s.Kind)
	}
	want := []provider.ActionKind{
		provider.ActionCheckout, provider.ActionSetup, provider.ActionCache,
		provider.ActionRun, provider.ActionRun, provider.ActionRun,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("step %d: want %s, got %s", i, want[i], kinds[i])
		}
	}
	if wf.Jobs[0].Steps[1].With["toolchain"] != "stable" {
		t.Fatalf("expected with.toolchain preserved, got %v", wf.Jobs[0].Steps[1].With)
	}
}

func TestParserNeeds(t *testing.T) {
	yamlDoc := `on: push
jobs:
  a:
    steps:
      - run: echo a
  b:
    needs: a
    steps:
      - run: echo b
  c:
    needs: [a, b]
    runs-on: [self-hosted, linux]
    timeout-minutes: 5
    steps:
      - run: echo c
        timeout-minutes: 1
`
	wf, _, err := decodeWorkflow(strings.NewReader(yamlDoc), "needs.yml")
	if err != nil {
		t.Fatalf("decodeWorkflow error: %v", err)
	}
	if got := wf.Jobs[1].Needs; len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected b needs [a], got %v", got)
	}
	c := wf.Jobs[2]
	if len(c.Needs) != 2 {
		t.Fatalf("expected c needs [a b], got %v", c.Needs)
	}
	if c.RunsOn != "self-hosted,linux" {
		t.Fatalf("expected joined runs-on labels, got %q", c.RunsOn)
	}
	if c.TimeoutMinutes != 5 || c.Steps[0].TimeoutMinutes != 1 {
		t.Fatalf("expected timeouts preserved, got job=%d step=%d", c.TimeoutMinutes, c.Steps[0].TimeoutMinutes)
	}
}

func TestParserWarnings(t *testing.T) {
	root := projectRoot(t)
	parser := NewParser(root)
	pipeline, err := parser.Parse([]string{"testdata/workflows/ci_services_matrix.yml"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if len(pipeline.Warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %d", len(pipeline.Warnings))
	}

	messages := make([]string, 0, len(pipeline.Warnings))
	for _, w := range pipeline.Warnings {
		messages = append(messages, w.Message)
	}

	mustContain(t, messages, "services are not supported")
	mustContain(t, messages, "strategy.matrix is not supported")
	mustContain(t, messages, "job-level if condition is ignored")
	mustContain(t, messages, "unsupported if condition")
	mustContain(t, messages, "unsupported action")

	job := pipeline.Workflows[0].Jobs[0]
	if len(job.Steps) != 1 {
		t.Fatalf("expected unsupported step dropped, got %d steps", len(job.Steps))
	}
	if len(pipeline.Workflows[0].Triggers) != 2 {
		t.Fatalf("expected list form of on: to yield 2 rules, got %+v", pipeline.Workflows[0].Triggers)
	}
}

func TestParserMissingFile(t *testing.T) {
	root := projectRoot(t)
	parser := NewParser(root)
	_, err := parser.Parse([]string{"testdata/workflows/missing.yml"})
	if err == nil {
		t.Fatalf("expected error for missing workflow")
	}
}

func TestStepNameFallback(t *testing.T) {
	yamlDoc := `name: unnamed
jobs:
  build:
    steps:
      - run: echo one
      - name: Explicit
        run: echo two
      - uses: actions/checkout@v4
      - uses: actions/checkout@v4
`
	wf, warnings, err := decodeWorkflow(strings.NewReader(yamlDoc), "temp.yml")
	if err != nil {
		t.Fatalf("decodeWorkflow error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if len(wf.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(wf.Jobs))
	}
	steps := wf.Jobs[0].Steps
	if steps[0].Name != "step 1" {
		t.Fatalf("expected first step name fallback 'step 1', got %q", steps[0].Name)
	}
	if steps[1].Name != "Explicit" {
		t.Fatalf("expected second step name preserved, got %q", steps[1].Name)
	}
	if steps[2].Name != "actions/checkout@v4 #3" || steps[3].Name != "actions/checkout@v4 #4" {
		t.Fatalf("expected repeated actions named by position, got %q and %q", steps[2].Name, steps[3].Name)
	}
	if len(wf.Triggers) != 0 {
		t.Fatalf("expected no triggers without on:, got %+v", wf.Triggers)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "broken.yml")
	if err := os.WriteFile(path, []byte("::bad yaml"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, _, err := decodeWorkflow(strings.NewReader("::bad yaml"), "broken.yml"); err == nil {
		t.Fatalf("expected parse error for invalid yaml")
	}

	parser := NewParser(tmp)
	if _, err := parser.Parse([]string{"broken.yml"}); err == nil {
		t.Fatalf("expected error from parser.Parse on invalid yaml")
	}
}

func TestParseInvalidNeeds(t *testing.T) {
	yamlDoc := `jobs:
  a:
    needs: {x: 1}
    steps:
      - run: echo a
`
	if _, _, err := decodeWorkflow(strings.NewReader(yamlDoc), "bad.yml"); err == nil {
		t.Fatalf("expected error for mapping needs")
	}
}

func TestConvertEnv(t *testing.T) {
	env := map[string]interface{}{"B": 2, "A": "1"}
	converted := convertEnv(env)
	if len(converted) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(converted))
	}
	if converted["A"] != "1" {
		t.Fatalf("expected string conversion for key A, got %q", converted["A"])
	}
	if converted["B"] != "2" {
		t.Fatalf("expected string conversion for key B, got %q", converted["B"])
	}
}

func TestParserParseMissingJobs(t *testing.T) {
	yamlDoc := `name: Empty Jobs`
	wf, _, err := decodeWorkflow(strings.NewReader(yamlDoc), "empty.yml")
	if err != nil {
		t.Fatalf("decodeWorkflow error: %v", err)
	}
	if len(wf.Jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(wf.Jobs))
	}
}

func TestParseWorkflowFileError(t *testing.T) {
	_, _, err := decodeWorkflow(&errorReader{}, "bad.yml")
	if err == nil {
		t.Fatalf("expected error from reader")
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	root := filepath.Clean(filepath.Join(wd, "..", "..", ".."))
	info, err := os.Stat(filepath.Join(root, "go.mod"))
	if err != nil {
		t.Fatalf("locating project root: %v", err)
	}
	if info.IsDir() {
		t.Fatalf("expected go.mod at %q to be a file", filepath.Join(root, "go.mod"))
	}
	return root
}

func mustContain(t *testing.T, list []string, target string) {
	t.Helper()
	for _, item := range list {
		if strings.Contains(item, target) {
			return
		}
	}
	t.Fatalf("expected to find %q in %v", target, list)
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) {
	return 0, errors.New("boom")
}
