package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
)

// runCommand executes a run step's script through its shell.
func (r *Runner) runCommand(ctx context.Context, state *jobState, step provider.Step, sr *report.StepResult, out *stepOutput) (string, error) {
	wf, job := state.run.Workflow, state.job
	env := mergeEnv(r.opts.Env, r.ciEnv(state), wf.Env, job.Env, step.Env)
	cmdArgs, err := buildCommand(step, job, wf, env)
	if err != nil {
		sr.ExitCode = 127
		return "", err
	}

	workingDir, err := resolveWorkingDirectory(state.workspace, wf, job, step)
	if err != nil {
		sr.ExitCode = 127
		return "", err
	}

	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = workingDir
	cmd.Env = env
	cmd.Stdout = out.stdout
	cmd.Stderr = out.stderr
	configureProcess(cmd)
	cmd.WaitDelay = 5 * time.Second

	err = cmd.Run()
	sr.ExitCode = exitCode(err)
	if err != nil {
		if ctx.Err() == nil {
			return "", fmt.Errorf("exit status %d", sr.ExitCode)
		}
		return "", err
	}
	return "", nil
}

// ciEnv mirrors the variables hosted runners export to every step.
func (r *Runner) ciEnv(state *jobState) map[string]string {
	env := map[string]string{
		"CI":                "true",
		"LOCALCI":           "true",
		"LOCALCI_RUN_ID":    state.run.ID,
		"GITHUB_ACTIONS":    "true",
		"GITHUB_WORKFLOW":   state.run.Workflow.Name,
		"GITHUB_JOB":        state.job.ID,
		"GITHUB_WORKSPACE":  state.workspace,
		"GITHUB_EVENT_NAME": string(state.run.Event.Kind),
		"GITHUB_REF_NAME":   state.run.Event.Branch,
		"RUNNER_OS":         runnerOS(),
	}
	if state.run.Event.Branch != "" {
		env["GITHUB_REF"] = "refs/heads/" + state.run.Event.Branch
	}
	if state.run.Event.Commit != "" {
		env["GITHUB_SHA"] = state.run.Event.Commit
	}
	return env
}

func runnerOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// buildCommand resolves the step's shell (step, then job, then workflow
// defaults) and produces the argv that runs its script.
func buildCommand(step provider.Step, job provider.Job, wf provider.Workflow, env []string) ([]string, error) {
	for _, candidate := range []string{step.Shell, job.Defaults.RunShell, wf.Defaults.RunShell} {
		if shell := strings.TrimSpace(candidate); shell != "" {
			return commandArgs(shell, step.Run, env)
		}
	}
	return commandArgs("", step.Run, env)
}

// commandArgs maps a shell spec onto an argv. Login shells get version
// manager initialization so toolchains pinned through asdf resolve the same
// way they do in an interactive terminal. A `{0}` placeholder in a custom
// spec is replaced by the script, as hosted runners do.
func commandArgs(shellSpec string, script string, env []string) ([]string, error) {
	if shellSpec == "" {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", script}, nil
		}
		return []string{"bash", "-l", "-e", "-o", "pipefail", "-c", toolInit(env, "bash") + script}, nil
	}

	fields := strings.Fields(shellSpec)
	for i, f := range fields {
		if f == "{0}" {
			out := append([]string{}, fields...)
			out[i] = script
			return out, nil
		}
	}
	shell := fields[0]
	args := append([]string{}, fields[1:]...)

	switch base := strings.ToLower(filepath.Base(shell)); base {
	case "bash":
		args = append(args, "-l", "-e", "-o", "pipefail", "-c", toolInit(env, base)+script)
	case "zsh", "ksh", "fish":
		args = append(args, "-l", "-c", toolInit(env, base)+script)
	case "sh", "dash":
		// POSIX sh has no portable login flag
		args = append(args, "-e", "-c", toolInit(env, "sh")+script)
	case "cmd", "cmd.exe":
		args = append(args, "/C", script)
	case "pwsh", "powershell", "powershell.exe":
		args = append(args, "-Command", script)
	case "python", "python3", "python.exe":
		args = append(args, "-c", script)
	default:
		args = append(args, script)
	}
	return append([]string{shell}, args...), nil
}

func resolveWorkingDirectory(root string, wf provider.Workflow, job provider.Job, step provider.Step) (string, error) {
	candidates := []string{step.WorkingDirectory, job.Defaults.WorkingDirectory, wf.Defaults.WorkingDirectory}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("working directory %q not found", candidate)
			}
			return "", fmt.Errorf("stat working directory %q: %w", candidate, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("working directory %q is not a directory", candidate)
		}
		return candidate, nil
	}
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
	}
	return root, nil
}

func mergeEnv(base []string, overlays ...map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlays)*4)
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			key := kv[:idx]
			envMap[key] = kv[idx+1:]
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			envMap[k] = v
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

// shouldSkipStep reports whether script invokes a command that needs root or
// mutates the host, returning a note for the report.
func shouldSkipStep(script string, opts Options) (string, bool) {
	if opts.AllowPrivileged {
		return "", false
	}
	for _, pattern := range opts.PrivilegedPatterns {
		if pattern == "" {
			continue
		}
		matched, err := regexp.MatchString(pattern, script)
		if err != nil || !matched {
			continue
		}
		return fmt.Sprintf("skipped privileged command matching pattern %q; set LOCALCI_ALLOW_PRIVILEGED=1 to run", pattern), true
	}
	return "", false
}

var bundlerVersionRegex = regexp.MustCompile(`bundler' \((\d+\.\d+(?:\.\d+)?)\)`)

// simplifyError rewrites well-known toolchain failures into an actionable hint.
func simplifyError(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "could not find 'bundler'"):
		if match := bundlerVersionRegex.FindStringSubmatch(stderr); len(match) == 2 {
			return fmt.Sprintf("missing bundler %s; run `gem install bundler:%s` or `bundle update --bundler`", match[1], match[1])
		}
		return "missing bundler; run `gem install bundler` or `bundle update --bundler`"
	case strings.Contains(lower, "no such command: `fmt`"), strings.Contains(lower, "'cargo-fmt' is not installed"):
		return "missing rustfmt; run `rustup component add rustfmt`"
	case strings.Contains(lower, "'cargo-clippy' is not installed"):
		return "missing clippy; run `rustup component add clippy`"
	}
	return stderr
}

func getEnvValue(env []string, key string) string {
	for _, kv := range env {
		if idx := strings.Index(kv, "="); idx != -1 && kv[:idx] == key {
			return kv[idx+1:]
		}
	}
	return ""
}

// asdfScript locates asdf.sh via ASDF_DIR, then $HOME/.asdf.
func asdfScript(env []string) string {
	var candidates []string
	if dir := getEnvValue(env, "ASDF_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "asdf.sh"))
	}
	home := getEnvValue(env, "HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".asdf", "asdf.sh"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// toolInit returns a shell prefix sourcing asdf, or "" when asdf is absent.
func toolInit(env []string, shellBase string) string {
	path := asdfScript(env)
	if path == "" {
		return ""
	}
	switch shellBase {
	case "bash", "zsh":
		return fmt.Sprintf("source %q && ", path)
	case "ksh", "sh":
		return fmt.Sprintf(". %q && ", path)
	case "fish":
		fishPath := strings.TrimSuffix(path, ".sh") + ".fish"
		if _, err := os.Stat(fishPath); err == nil {
			return fmt.Sprintf("source %q; ", fishPath)
		}
		return fmt.Sprintf("source %q; ", path)
	default:
		return ""
	}
}

// DefaultPrivilegedPatterns matches package managers and privilege
// escalation, which a local run should not perform unasked.
func DefaultPrivilegedPatterns() []string {
	return []string{
		`(?im)^\s*sudo\b`,
		`(?i)\bapt-get\b`,
		`(?i)\bapt\b`,
		`(?i)\byum\b`,
		`(?i)\bdnf\b`,
		`(?i)\bzypper\b`,
		`(?i)\bpacman\b`,
		`(?i)\bbrew\b`,
		`(?i)\bchoco\b`,
		`(?i)\bwinget\b`,
		`(?i)\bpip\s+install\s+--user`,
		`(?i)\bnpm\s+install\s+-g`,
		`(?i)\byarn\s+global`,
	}
}
