package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoWorkflows indicates that no workflow files were found during discovery.
var ErrNoWorkflows = errors.New("no workflows discovered")

var (
	githubGlobs = []string{
		filepath.Join(".github", "workflows", "*.yml"),
		filepath.Join(".github", "workflows", "*.yaml"),
	}
	hclGlobs = []string{
		filepath.Join(".localci", "*.hcl"),
	}
)

// Workflows returns GitHub Actions workflow file paths. If explicit paths are
// provided they are validated and returned in the order given. Otherwise the
// default workflow glob is used and results are sorted lexicographically.
func Workflows(root string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return resolveExplicit(root, explicit)
	}
	return glob(root, githubGlobs)
}

// Pipelines returns HCL pipeline file paths, explicit or from .localci/*.hcl.
func Pipelines(root string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return resolveExplicit(root, explicit)
	}
	return glob(root, hclGlobs)
}

// IsHCL reports whether path names an HCL pipeline file.
func IsHCL(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".hcl")
}

func glob(root string, patterns []string) ([]string, error) {
	matches := make(map[string]struct{})
	for _, pattern := range patterns {
		full := filepath.Join(root, pattern)
		found, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", full, err)
		}
		for _, m := range found {
			matches[m] = struct{}{}
		}
	}

	if len(matches) == 0 {
		return nil, ErrNoWorkflows
	}

	paths := make([]string, 0, len(matches))
	for p := range matches {
		paths = append(paths, mustRelOrClean(root, p))
	}
	sort.Strings(paths)

	return paths, nil
}

func resolveExplicit(root string, explicit []string) ([]string, error) {
	seen := make(map[string]struct{})
	resolved := make([]string, 0, len(explicit))
	for _, input := range explicit {
		cleaned := input
		if !filepath.IsAbs(cleaned) {
			cleaned = filepath.Join(root, cleaned)
		}
		info, err := os.Stat(cleaned)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("workflow %q not found", input)
			}
			return nil, fmt.Errorf("stat %q: %w", input, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("workflow %q is a directory", input)
		}
		rel := mustRelOrClean(root, cleaned)
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		resolved = append(resolved, rel)
	}
	if len(resolved) == 0 {
		return nil, ErrNoWorkflows
	}
	return resolved, nil
}

func mustRelOrClean(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	rel = filepath.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Clean(path)
	}
	return rel
}
