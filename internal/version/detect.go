package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Info captures a toolchain version installed on the system.
type Info struct {
	Name    string
	Version string
}

// Toolchain describes how to query an installed toolchain's version.
type Toolchain struct {
	Name    string
	Command string
	Args    []string
	// Input is the `with` parameter of the setup action naming the version.
	Input   string
	pattern *regexp.Regexp
}

var toolchains = map[string]Toolchain{
	"go": {
		Name: "go", Command: "go", Args: []string{"version"}, Input: "go-version",
		pattern: regexp.MustCompile(`go(\d+\.\d+(?:\.\d+)?)`),
	},
	"rust": {
		Name: "rust", Command: "rustc", Args: []string{"--version"}, Input: "toolchain",
		pattern: regexp.MustCompile(`rustc\s+(\d+\.\d+(?:\.\d+)?)`),
	},
	"node": {
		Name: "node", Command: "node", Args: []string{"-v"}, Input: "node-version",
		pattern: regexp.MustCompile(`(?i)v?(\d+\.\d+(?:\.\d+)?)`),
	},
	"ruby": {
		Name: "ruby", Command: "ruby", Args: []string{"-v"}, Input: "ruby-version",
		pattern: regexp.MustCompile(`(?i)ruby\s+(\d+\.\d+(?:\.\d+)?)`),
	},
	"python": {
		Name: "python", Command: "python3", Args: []string{"--version"}, Input: "python-version",
		pattern: regexp.MustCompile(`(?i)python\s+(\d+\.\d+(?:\.\d+)?)`),
	},
}

var setupActions = map[string]string{
	"actions/setup-go":       "go",
	"actions/setup-node":     "node",
	"actions/setup-python":   "python",
	"actions/setup-ruby":     "ruby",
	"ruby/setup-ruby":        "ruby",
	"dtolnay/rust-toolchain": "rust",
	"actions-rs/toolchain":   "rust",
}

// Lookup returns a known toolchain by name.
func Lookup(name string) (Toolchain, bool) {
	tc, ok := toolchains[name]
	return tc, ok
}

// ToolchainFor maps a setup action reference to the toolchain it installs.
func ToolchainFor(uses string) (Toolchain, bool) {
	name := uses
	if idx := strings.Index(name, "@"); idx != -1 {
		name = name[:idx]
	}
	tool, ok := setupActions[strings.ToLower(name)]
	if !ok {
		return Toolchain{}, false
	}
	return Lookup(tool)
}

// Requested returns the version a setup step asks for. dtolnay/rust-toolchain
// encodes it in the action ref (`@stable`, `@1.75.0`) when `toolchain` is unset.
func Requested(tc Toolchain, uses string, with map[string]string) string {
	if v := strings.TrimSpace(with[tc.Input]); v != "" {
		return v
	}
	if tc.Name == "rust" {
		if idx := strings.Index(uses, "@"); idx != -1 {
			ref := uses[idx+1:]
			if ref != "master" && ref != "main" && !strings.HasPrefix(ref, "v") {
				return ref
			}
		}
	}
	return ""
}

// Detect runs the toolchain's version command and parses its output.
func Detect(ctx context.Context, tc Toolchain) (Info, error) {
	out, err := runCommand(ctx, tc.Command, tc.Args...)
	if err != nil {
		return Info{}, err
	}
	match := tc.pattern.FindStringSubmatch(out)
	if len(match) < 2 {
		return Info{}, fmt.Errorf("unable to parse %s version from %q", tc.Name, out)
	}
	return Info{Name: tc.Name, Version: match[1]}, nil
}

// DetectComponent checks that a rust toolchain component is installed by
// asking cargo for its version.
func DetectComponent(ctx context.Context, component string) error {
	sub := strings.TrimSpace(component)
	switch sub {
	case "":
		return nil
	case "rustfmt":
		sub = "fmt"
	case "rust-src", "rust-docs", "llvm-tools-preview", "llvm-tools":
		return nil
	}
	if _, err := runCommand(ctx, "cargo", sub, "--version"); err != nil {
		return fmt.Errorf("rust component %q unavailable: %w", component, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Satisfies reports whether an installed version meets a requested one.
// Channel names (stable, beta, nightly, latest, lts/*) and an empty request
// only require presence; a bare major compares majors; anything else
// compares major.minor.
func Satisfies(requested, actual string) bool {
	requested = strings.TrimPrefix(strings.TrimSpace(requested), "v")
	if requested == "" || isChannel(requested) {
		return true
	}
	requested = strings.TrimSuffix(requested, ".x")
	if !strings.Contains(requested, ".") {
		return strings.SplitN(actual, ".", 2)[0] == requested
	}
	return CompareMajorMinor(requested, actual)
}

func isChannel(v string) bool {
	v = strings.ToLower(v)
	switch v {
	case "stable", "beta", "nightly", "latest", "node", "lts", "*":
		return true
	}
	return strings.HasPrefix(v, "lts/") || strings.HasPrefix(v, "nightly-") || strings.HasPrefix(v, "beta-")
}

// CompareMajorMinor compares major.minor portions of two semver-like versions.
func CompareMajorMinor(desired, actual string) bool {
	d := semverPrefix(desired)
	a := semverPrefix(actual)
	if d == "" || a == "" {
		return false
	}
	return strings.EqualFold(d, a)
}

func semverPrefix(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// Missing reports whether executing the command returns a not-found error.
func Missing(cmdErr error) bool {
	return errors.Is(cmdErr, exec.ErrNotFound)
}
