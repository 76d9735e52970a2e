package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/localci/internal/cache"
	"github.com/bgricker/localci/internal/config"
	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/engine"
	"github.com/bgricker/localci/internal/output"
	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/runner"
)

// errJobsFailed is returned after the report is printed, so main exits
// non-zero without printing it again.
var errJobsFailed = errors.New("one or more jobs failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflows triggered by an event",
		RunE:  runExecute,
	}
	flags := cmd.Flags()
	flags.String("event", "push", "event kind to simulate (push|pull_request)")
	flags.String("branch", "", "branch of the event (default: current git branch)")
	flags.String("commit", "", "commit of the event (default: current HEAD)")
	flags.Bool("force", false, "run workflows even when their triggers do not match")
	addExecutionFlags(cmd)
	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd, cfg)
	logger := ctxlog.FromContext(ctx)

	data, err := loadPipeline(ctx, root, cfg)
	if err != nil {
		return err
	}

	filtered, err := applyFilters(data, cfg)
	if err != nil {
		return err
	}
	if len(filtered.workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching jobs or steps")
		return nil
	}
	if err := engine.Validate(filtered.workflows); err != nil {
		return err
	}

	ev, err := resolveEvent(ctx, root, cfg.Event)
	if err != nil {
		return err
	}

	pretty := strings.ToLower(cfg.Format) == config.FormatPretty
	sinks := []report.Sink{report.LogSink{Logger: logger}}
	if pretty {
		sinks = append(sinks, output.NewStream(cmd.OutOrStdout(), cfg.Verbose))
	}
	var fileSink *report.FileSink
	if cfg.ReportDir != "" {
		fileSink = report.NewFileSink(resolvePath(root, cfg.ReportDir), logger)
		sinks = append(sinks, fileSink)
	}
	if cfg.StatusURL != "" {
		httpSink := report.NewHTTPSink(cfg.StatusURL, cfg.StatusToken, logger)
		defer httpSink.Close()
		sinks = append(sinks, httpSink)
	}

	eng := engine.New(engine.Options{
		Runner:      runnerOptions(root, cfg),
		MaxParallel: cfg.MaxParallel,
		Force:       cfg.Force,
		Sink:        report.Multi(sinks...),
	})

	results := make([]report.PipelineResult, 0, len(filtered.workflows))
	for _, wf := range filtered.workflows {
		res, err := eng.Run(ctx, wf, ev)
		if err != nil {
			return err
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	if fileSink != nil {
		if err := fileSink.Err(); err != nil {
			logger.Warn("report files incomplete", "error", err)
		}
	}

	summary := report.Combine(results)
	warnings := collapseWarnings(filtered.warnings)

	switch {
	case pretty:
		if err := output.NewPretty(cmd.OutOrStdout()).RenderResults(results); err != nil {
			return err
		}
		for _, msg := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
		}
	default:
		jsonReport := output.Report{
			Provider: filtered.provider,
			Runs:     results,
			Summary:  &summary,
			Warnings: warnings,
		}
		if err := output.NewJSON(cmd.OutOrStdout()).Render(jsonReport); err != nil {
			return err
		}
	}

	if summary.ExitCode != 0 {
		return errJobsFailed
	}
	return nil
}

func runnerOptions(root string, cfg config.Config) runner.Options {
	opts := runner.Options{
		Root:               root,
		TailLines:          20,
		DryRun:             cfg.DryRun,
		Isolate:            cfg.Isolate,
		StepTimeout:        cfg.StepTimeout,
		AllowPrivileged:    cfg.AllowPrivileged,
		PrivilegedPatterns: cfg.PrivilegedCommandPatterns,
	}
	if cfg.CacheDir != "" {
		opts.Cache = cache.NewFileCache(resolvePath(root, cfg.CacheDir))
	}
	return opts
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
