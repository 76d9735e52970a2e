package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bgricker/localci/internal/output"
)

func TestListCommandWaves(t *testing.T) {
	chdir(t, projectRoot(t))

	out, err := execute(t, "list", "--workflow", "testdata/workflows/ci_needs.yml")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	for _, want := range []string{
		"Workflow Staged (testdata/workflows/ci_needs.yml)",
		"on: push [dev, main]",
		"Wave 1\n    Job build",
		"Wave 2\n    Job test (needs build)",
		"Wave 3\n    Job release (needs lint, test)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestListCommandFilters(t *testing.T) {
	chdir(t, projectRoot(t))

	out, err := execute(t, "list",
		"--workflow", "testdata/workflows/ci_needs.yml",
		"--job", "/^(build|test)$/",
	)
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if strings.Contains(out, "release") || strings.Contains(out, "lint") {
		t.Fatalf("expected filtered jobs removed, got %q", out)
	}
	if !strings.Contains(out, "Job test (needs build)") {
		t.Fatalf("expected test job kept, got %q", out)
	}
}

func TestListCommandJSON(t *testing.T) {
	chdir(t, projectRoot(t))

	out, err := execute(t, "list", "--workflow", "testdata/workflows/ci_needs.yml", "--format", "json")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	var rep output.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if rep.Provider != "github" {
		t.Fatalf("unexpected provider %q", rep.Provider)
	}
	waves := rep.Plans["testdata/workflows/ci_needs.yml"]
	if len(waves) != 3 || waves[2][0] != "release" {
		t.Fatalf("unexpected plan %v", waves)
	}
}

func TestListCommandHCL(t *testing.T) {
	chdir(t, projectRoot(t))

	out, err := execute(t, "list", "--workflow", "testdata/pipelines/rust_ci.hcl")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "Workflow Rust (testdata/pipelines/rust_ci.hcl)") {
		t.Fatalf("expected hcl workflow header, got %q", out)
	}
	if !strings.Contains(out, "Job build_and_test") {
		t.Fatalf("expected hcl job, got %q", out)
	}
}

func TestListCommandReportsInvalidGraph(t *testing.T) {
	chdir(t, projectRoot(t))

	out, err := execute(t, "list", "--workflow", "testdata/workflows/ci_cycle.yml")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "invalid:") || !strings.Contains(out, "cycle") {
		t.Fatalf("expected cycle report, got %q", out)
	}
}

func TestListCommandConfig(t *testing.T) {
	root := projectRoot(t)
	tmp := t.TempDir()
	copyDir(t, filepath.Join(root, "testdata"), filepath.Join(tmp, "testdata"))

	configYAML := []byte(`provider: github
workflows:
  - testdata/workflows/ci_envs.yml
jobs:
  - /Unit/
only_step:
  - step one
`)
	if err := os.WriteFile(filepath.Join(tmp, ".localci.yml"), configYAML, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, tmp)

	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("command execute: %v", err)
	}
	if !strings.Contains(out, "Job Unit Tests") || !strings.Contains(out, "• Step one") {
		t.Fatalf("expected config filters applied, got %q", out)
	}
}

func TestListCommandRejectsBadConfig(t *testing.T) {
	chdir(t, projectRoot(t))

	_, err := execute(t, "list", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("expected format error, got %v", err)
	}
}
