package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bgricker/localci/internal/trigger"
)

// FileName is the optional per-repository configuration file.
const FileName = ".localci.yml"

// Config captures CLI options sourced from config files, environment or flags.
type Config struct {
	Provider  string   `yaml:"provider"`
	Workflows []string `yaml:"workflows"`
	Jobs      []string `yaml:"jobs"`

	OnlySteps []string `yaml:"only_step"`
	SkipSteps []string `yaml:"skip_step"`

	DryRun  bool   `yaml:"dry_run"`
	Verbose bool   `yaml:"verbose"`
	Format  string `yaml:"format"`

	Event       EventConfig   `yaml:"event"`
	Force       bool          `yaml:"force"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	MaxParallel int           `yaml:"max_parallel"`
	Isolate     bool          `yaml:"isolate"`

	CacheDir    string `yaml:"cache_dir"`
	ReportDir   string `yaml:"report_dir"`
	StatusURL   string `yaml:"status_url"`
	StatusToken string `yaml:"-"`
	Listen      string `yaml:"listen"`

	Log  LogConfig  `yaml:"log"`
	Warn WarnConfig `yaml:"warn"`

	PrivilegedCommandPatterns []string `yaml:"privileged_command_patterns"`
	AllowPrivileged           bool     `yaml:"allow_privileged"`
}

// EventConfig describes the source-control event a run simulates.
type EventConfig struct {
	Kind   string `yaml:"kind"`
	Branch string `yaml:"branch"`
	Commit string `yaml:"commit"`
}

// LogConfig selects the diagnostic log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WarnConfig controls additional warning behaviour.
type WarnConfig struct {
	VersionMismatch bool `yaml:"version_mismatch"`
}

const (
	// ProviderAuto selects the provider based on repository contents.
	ProviderAuto = "auto"
	// ProviderGitHub forces GitHub Actions provider.
	ProviderGitHub = "github"
	// ProviderHCL forces the HCL pipeline provider.
	ProviderHCL = "hcl"

	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"

	DefaultStepTimeout = 30 * time.Minute
	DefaultCacheDir    = ".localci/cache"
	DefaultListen      = ":8080"
)

// Environment overrides.
const (
	EnvAllowPrivileged = "LOCALCI_ALLOW_PRIVILEGED"
	EnvStatusToken     = "LOCALCI_STATUS_TOKEN"
)

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Provider:    ProviderAuto,
		Format:      FormatPretty,
		Event:       EventConfig{Kind: string(trigger.Push)},
		StepTimeout: DefaultStepTimeout,
		CacheDir:    DefaultCacheDir,
		Listen:      DefaultListen,
		Log:         LogConfig{Level: "warn", Format: "text"},
		Warn: WarnConfig{
			VersionMismatch: true,
		},
	}
}

// Load reads .localci.yml from the repository root when present, then
// applies environment overrides. Missing files are ignored.
func Load(root string) (Config, error) {
	return load(root, os.Getenv)
}

func load(root string, getenv func(string) string) (Config, error) {
	cfg := Default()
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
		cfg = merge(cfg, fileCfg)
	}
	applyEnv(&cfg, getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	switch strings.ToLower(strings.TrimSpace(getenv(EnvAllowPrivileged))) {
	case "1", "true", "yes":
		cfg.AllowPrivileged = true
	}
	if token := getenv(EnvStatusToken); token != "" {
		cfg.StatusToken = token
	}
}

func merge(base, override Config) Config {
	out := base

	if override.Provider != "" {
		out.Provider = override.Provider
	}
	if len(override.Workflows) > 0 {
		out.Workflows = append([]string{}, override.Workflows...)
	}
	if len(override.Jobs) > 0 {
		out.Jobs = append([]string{}, override.Jobs...)
	}
	if len(override.OnlySteps) > 0 {
		out.OnlySteps = append([]string{}, override.OnlySteps...)
	}
	if len(override.SkipSteps) > 0 {
		out.SkipSteps = append([]string{}, override.SkipSteps...)
	}
	if len(override.PrivilegedCommandPatterns) > 0 {
		out.PrivilegedCommandPatterns = append([]string{}, override.PrivilegedCommandPatterns...)
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.DryRun {
		out.DryRun = true
	}
	if override.Verbose {
		out.Verbose = true
	}
	if override.Force {
		out.Force = true
	}
	if override.Isolate {
		out.Isolate = true
	}
	if override.AllowPrivileged {
		out.AllowPrivileged = true
	}

	if override.Event.Kind != "" {
		out.Event.Kind = override.Event.Kind
	}
	if override.Event.Branch != "" {
		out.Event.Branch = override.Event.Branch
	}
	if override.Event.Commit != "" {
		out.Event.Commit = override.Event.Commit
	}
	if override.StepTimeout != 0 {
		out.StepTimeout = override.StepTimeout
	}
	if override.MaxParallel != 0 {
		out.MaxParallel = override.MaxParallel
	}
	if override.CacheDir != "" {
		out.CacheDir = override.CacheDir
	}
	if override.ReportDir != "" {
		out.ReportDir = override.ReportDir
	}
	if override.StatusURL != "" {
		out.StatusURL = override.StatusURL
	}
	if override.Listen != "" {
		out.Listen = override.Listen
	}
	if override.Log.Level != "" {
		out.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		out.Log.Format = override.Log.Format
	}

	if override.Warn.VersionMismatch {
		out.Warn.VersionMismatch = true
	}

	return out
}

// Validate rejects settings no command could act on.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderAuto, ProviderGitHub, ProviderHCL:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	switch c.Format {
	case FormatPretty, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if _, err := trigger.ParseKind(c.Event.Kind); err != nil {
		errs = append(errs, err)
	}
	if c.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("max_parallel must not be negative, got %d", c.MaxParallel))
	}
	if c.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("step_timeout must not be negative, got %s", c.StepTimeout))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if flags.Provider.Set {
		cfg.Provider = flags.Provider.Value
	}
	if len(flags.Workflows.Values) > 0 {
		cfg.Workflows = append([]string{}, flags.Workflows.Values...)
	}
	if len(flags.Jobs.Values) > 0 {
		cfg.Jobs = append([]string{}, flags.Jobs.Values...)
	}
	if len(flags.OnlySteps.Values) > 0 {
		cfg.OnlySteps = append([]string{}, flags.OnlySteps.Values...)
	}
	if len(flags.SkipSteps.Values) > 0 {
		cfg.SkipSteps = append([]string{}, flags.SkipSteps.Values...)
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.DryRun.Set {
		cfg.DryRun = flags.DryRun.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
	if flags.EventKind.Set {
		cfg.Event.Kind = flags.EventKind.Value
	}
	if flags.Branch.Set {
		cfg.Event.Branch = flags.Branch.Value
	}
	if flags.Commit.Set {
		cfg.Event.Commit = flags.Commit.Value
	}
	if flags.Force.Set {
		cfg.Force = flags.Force.Value
	}
	if flags.StepTimeout.Set {
		cfg.StepTimeout = flags.StepTimeout.Value
	}
	if flags.MaxParallel.Set {
		cfg.MaxParallel = flags.MaxParallel.Value
	}
	if flags.Isolate.Set {
		cfg.Isolate = flags.Isolate.Value
	}
	if flags.CacheDir.Set {
		cfg.CacheDir = flags.CacheDir.Value
	}
	if flags.ReportDir.Set {
		cfg.ReportDir = flags.ReportDir.Value
	}
	if flags.StatusURL.Set {
		cfg.StatusURL = flags.StatusURL.Value
	}
	if flags.Listen.Set {
		cfg.Listen = flags.Listen.Value
	}
	if flags.LogLevel.Set {
		cfg.Log.Level = flags.LogLevel.Value
	}
	if flags.LogFormat.Set {
		cfg.Log.Format = flags.LogFormat.Value
	}
	if flags.AllowPrivileged.Set {
		cfg.AllowPrivileged = flags.AllowPrivileged.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Provider  StringFlag
	Workflows SliceFlag
	Jobs      SliceFlag
	OnlySteps SliceFlag
	SkipSteps SliceFlag
	Format    StringFlag
	DryRun    BoolFlag
	Verbose   BoolFlag

	EventKind       StringFlag
	Branch          StringFlag
	Commit          StringFlag
	Force           BoolFlag
	StepTimeout     DurationFlag
	MaxParallel     IntFlag
	Isolate         BoolFlag
	CacheDir        StringFlag
	ReportDir       StringFlag
	StatusURL       StringFlag
	Listen          StringFlag
	LogLevel        StringFlag
	LogFormat       StringFlag
	AllowPrivileged BoolFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}

// IntFlag represents an int flag and whether it was set.
type IntFlag struct {
	Value int
	Set   bool
}

// DurationFlag represents a duration flag and whether it was set.
type DurationFlag struct {
	Value time.Duration
	Set   bool
}
