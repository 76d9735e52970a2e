package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bgricker/localci/internal/config"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues
	var errs []error

	str := func(name string, dst *config.StringFlag) {
		if !flags.Changed(name) {
			return
		}
		v, err := flags.GetString(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse --%s: %w", name, err))
			return
		}
		*dst = config.StringFlag{Value: v, Set: true}
	}
	slice := func(name string, dst *config.SliceFlag) {
		if !flags.Changed(name) {
			return
		}
		v, err := flags.GetStringArray(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse --%s: %w", name, err))
			return
		}
		*dst = config.SliceFlag{Values: append([]string{}, v...)}
	}
	boolean := func(name string, dst *config.BoolFlag) {
		if !flags.Changed(name) {
			return
		}
		v, err := flags.GetBool(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse --%s: %w", name, err))
			return
		}
		*dst = config.BoolFlag{Value: v, Set: true}
	}

	str("provider", &values.Provider)
	slice("workflow", &values.Workflows)
	slice("job", &values.Jobs)
	slice("only-step", &values.OnlySteps)
	slice("skip-step", &values.SkipSteps)
	str("format", &values.Format)
	boolean("dry-run", &values.DryRun)
	boolean("verbose", &values.Verbose)
	str("log-level", &values.LogLevel)
	str("log-format", &values.LogFormat)

	str("event", &values.EventKind)
	str("branch", &values.Branch)
	str("commit", &values.Commit)
	boolean("force", &values.Force)
	boolean("isolate", &values.Isolate)
	boolean("allow-privileged", &values.AllowPrivileged)
	str("cache-dir", &values.CacheDir)
	str("report-dir", &values.ReportDir)
	str("status-url", &values.StatusURL)
	str("listen", &values.Listen)

	if changed(flags, "step-timeout") {
		v, err := flags.GetDuration("step-timeout")
		if err != nil {
			errs = append(errs, fmt.Errorf("parse --step-timeout: %w", err))
		} else {
			values.StepTimeout = config.DurationFlag{Value: v, Set: true}
		}
	}
	if changed(flags, "max-parallel") {
		v, err := flags.GetInt("max-parallel")
		if err != nil {
			errs = append(errs, fmt.Errorf("parse --max-parallel: %w", err))
		} else {
			values.MaxParallel = config.IntFlag{Value: v, Set: true}
		}
	}

	if len(errs) > 0 {
		return values, errs[0]
	}
	return values, nil
}

// changed reports whether a flag exists on this command and was set.
func changed(flags *pflag.FlagSet, name string) bool {
	return flags.Lookup(name) != nil && flags.Changed(name)
}
