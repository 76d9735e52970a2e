package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(t.TempDir(), noEnv)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFile(t *testing.T) {
	root := t.TempDir()
	data := []byte(`
provider: hcl
jobs: [build]
format: json
event:
  kind: pull_request
  branch: dev
step_timeout: 5m
max_parallel: 2
isolate: true
cache_dir: /tmp/cache
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), data, 0o644))

	cfg, err := load(root, noEnv)
	require.NoError(t, err)
	require.Equal(t, ProviderHCL, cfg.Provider)
	require.Equal(t, []string{"build"}, cfg.Jobs)
	require.Equal(t, FormatJSON, cfg.Format)
	require.Equal(t, EventConfig{Kind: "pull_request", Branch: "dev"}, cfg.Event)
	require.Equal(t, 5*time.Minute, cfg.StepTimeout)
	require.Equal(t, 2, cfg.MaxParallel)
	require.True(t, cfg.Isolate)
	require.Equal(t, "/tmp/cache", cfg.CacheDir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.Equal(t, DefaultListen, cfg.Listen)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("step_timeout: [nope"), 0o644))
	_, err := load(root, noEnv)
	require.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{EnvAllowPrivileged: "1", EnvStatusToken: "secret"}
	cfg, err := load(t.TempDir(), func(k string) string { return env[k] })
	require.NoError(t, err)
	require.True(t, cfg.AllowPrivileged)
	require.Equal(t, "secret", cfg.StatusToken)
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()
	ApplyFlags(&cfg, FlagValues{
		Jobs:        SliceFlag{Values: []string{"lint"}},
		Branch:      StringFlag{Value: "main", Set: true},
		StepTimeout: DurationFlag{Value: time.Minute, Set: true},
		MaxParallel: IntFlag{Value: 4, Set: true},
		DryRun:      BoolFlag{Value: true, Set: true},
		Format:      StringFlag{Value: "ignored"},
	})
	require.Equal(t, []string{"lint"}, cfg.Jobs)
	require.Equal(t, "main", cfg.Event.Branch)
	require.Equal(t, time.Minute, cfg.StepTimeout)
	require.Equal(t, 4, cfg.MaxParallel)
	require.True(t, cfg.DryRun)
	require.Equal(t, FormatPretty, cfg.Format)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown provider": func(c *Config) { c.Provider = "gitlab" },
		"unknown format":   func(c *Config) { c.Format = "xml" },
		"push or":          func(c *Config) { c.Event.Kind = "tag" },
		"max_parallel":     func(c *Config) { c.MaxParallel = -1 },
		"step_timeout":     func(c *Config) { c.StepTimeout = -time.Second },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
		"log format":       func(c *Config) { c.Log.Format = "xml" },
	}
	for want, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		require.ErrorContains(t, cfg.Validate(), want)
	}
}
