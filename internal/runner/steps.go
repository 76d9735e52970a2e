package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bgricker/localci/internal/cache"
	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/version"
)

// checkout materializes repository state in the job workspace. Without
// isolation the working tree already is the workspace; with it the
// repository is cloned and the event commit checked out.
func (r *Runner) checkout(ctx context.Context, state *jobState, step provider.Step, out *stepOutput) (string, error) {
	if !r.opts.Isolate {
		info, err := os.Stat(state.workspace)
		if err != nil {
			return "", fmt.Errorf("stat workspace: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("workspace %q is not a directory", state.workspace)
		}
		out.Println("using working tree at " + state.workspace)
		return "working tree", nil
	}

	dest := state.workspace
	if p := strings.TrimSpace(step.With["path"]); p != "" {
		rel, err := insideWorkspace(p)
		if err != nil {
			return "", err
		}
		dest = filepath.Join(state.workspace, rel)
	}
	if err := r.git(ctx, out, "", "clone", "--quiet", "--no-hardlinks", r.opts.Root, dest); err != nil {
		return "", fmt.Errorf("git clone: %w", err)
	}

	ref := strings.TrimSpace(step.With["ref"])
	if ref == "" {
		ref = state.run.Event.Commit
	}
	if ref == "" {
		return "cloned HEAD", nil
	}
	if err := r.git(ctx, out, dest, "checkout", "--quiet", ref); err != nil {
		return "", fmt.Errorf("git checkout %s: %w", ref, err)
	}
	return "checked out " + ref, nil
}

func (r *Runner) git(ctx context.Context, out *stepOutput, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = r.opts.Env
	cmd.Stdout = out.stdout
	cmd.Stderr = out.stderr
	configureProcess(cmd)
	return cmd.Run()
}

// setup verifies the requested toolchain is installed. Local runs never
// install toolchains, so a missing or mismatched version fails the step.
func (r *Runner) setup(ctx context.Context, state *jobState, step provider.Step, out *stepOutput) (string, error) {
	tc, ok := version.ToolchainFor(step.Uses)
	if !ok {
		return "", fmt.Errorf("no toolchain known for %q", provider.ActionName(step.Uses))
	}
	requested := version.Requested(tc, step.Uses, step.With)
	info, err := version.Detect(ctx, tc)
	if err != nil {
		if version.Missing(err) {
			return "", fmt.Errorf("%s toolchain not installed (%s not found on PATH)", tc.Name, tc.Command)
		}
		return "", fmt.Errorf("detect %s: %w", tc.Name, err)
	}
	if !version.Satisfies(requested, info.Version) {
		return "", fmt.Errorf("%s %s requested, found %s", tc.Name, requested, info.Version)
	}
	if tc.Name == "rust" {
		for _, component := range splitList(step.With["components"]) {
			if err := version.DetectComponent(ctx, component); err != nil {
				return "", err
			}
		}
	}

	state.toolchains = append(state.toolchains, tc.Name+"="+info.Version)
	out.Println(fmt.Sprintf("using %s %s", tc.Name, info.Version))
	return fmt.Sprintf("%s %s", tc.Name, info.Version), nil
}

type pendingSave struct {
	step  string
	key   cache.Key
	paths []string
}

// restoreCache looks the step's paths up in the toolchain cache. It never
// fails: errors degrade to a miss and are reported in the detail. On a miss
// the paths are saved after the job succeeds.
func (r *Runner) restoreCache(ctx context.Context, state *jobState, step provider.Step, out *stepOutput) string {
	logger := ctxlog.FromContext(ctx).With("job", state.job.ID, "step", step.Name)
	if r.opts.Cache == nil {
		return "cache disabled"
	}

	paths, userKey := r.cacheSpec(state, step)
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := insideWorkspace(p)
		if err != nil {
			out.Println("not caching " + p + ": outside the workspace")
			continue
		}
		kept = append(kept, rel)
	}
	if len(kept) == 0 {
		return "no workspace paths to cache"
	}

	key := cache.Fingerprint(state.job.RunsOn, state.descriptor(), userKey)
	name := strings.ToLower(provider.ActionName(step.Uses))
	saveOnly := strings.HasSuffix(name, "/save")
	restoreOnly := strings.HasSuffix(name, "/restore")

	if !saveOnly {
		blob, ok, err := r.opts.Cache.Get(ctx, key)
		if err != nil {
			logger.Warn("cache lookup failed", "error", err)
			return "cache unavailable: " + err.Error()
		}
		if ok {
			if err := cache.Extract(state.workspace, blob); err != nil {
				logger.Warn("cache restore failed", "error", err)
				return "cache restore failed: " + err.Error()
			}
			out.Println("restored " + strings.Join(kept, ", ") + " from cache")
			return "cache hit"
		}
	}
	if !restoreOnly {
		state.saves = append(state.saves, pendingSave{step: step.Name, key: key, paths: kept})
	}
	return "cache miss"
}

// cacheSpec returns the paths a cache step covers and the user key part of
// its fingerprint.
func (r *Runner) cacheSpec(state *jobState, step provider.Step) ([]string, string) {
	name := strings.ToLower(provider.ActionName(step.Uses))
	if strings.HasPrefix(name, "swatinem/rust-cache") {
		parts := []string{"rust-cache", step.With["prefix-key"], step.With["shared-key"], step.With["key"]}
		if sum := fileDigest(filepath.Join(state.workspace, "Cargo.lock")); sum != "" {
			parts = append(parts, sum)
		}
		return []string{"target"}, strings.Join(parts, "|")
	}
	key := strings.TrimSpace(step.With["key"])
	if key == "" {
		key = step.Name
	}
	return splitLines(step.With["path"]), key
}

func (r *Runner) saveCaches(ctx context.Context, state *jobState) {
	logger := ctxlog.FromContext(ctx).With("job", state.job.ID)
	for _, save := range state.saves {
		if ctx.Err() != nil {
			return
		}
		blob, err := cache.Archive(state.workspace, save.paths)
		if errors.Is(err, cache.ErrNothingToArchive) {
			logger.Debug("nothing to cache", "step", save.step)
			continue
		}
		if err != nil {
			logger.Warn("cache archive failed", "step", save.step, "error", err)
			continue
		}
		if err := r.opts.Cache.Put(ctx, save.key, blob); err != nil {
			logger.Warn("cache save failed", "step", save.step, "error", err)
			continue
		}
		logger.Info("cache saved", "step", save.step, "bytes", len(blob))
	}
}

func insideWorkspace(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "~") || filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	return clean, nil
}

func fileDigest(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "!") {
			out = append(out, line)
		}
	}
	return out
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
