package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/localci/internal/config"
	"github.com/bgricker/localci/internal/engine"
	"github.com/bgricker/localci/internal/output"
	"github.com/bgricker/localci/internal/provider"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow jobs by wave, with their steps",
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd, cfg)

	data, err := loadPipeline(ctx, root, cfg)
	if err != nil {
		return err
	}

	filtered, err := applyFilters(data, cfg)
	if err != nil {
		return err
	}

	return renderList(cmd, cfg, data.provider, filtered.workflows, filtered.warnings)
}

func renderList(cmd *cobra.Command, cfg config.Config, providerName string, workflows []provider.Workflow, warnings []provider.Warning) error {
	if len(workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching jobs or steps")
		return nil
	}

	warningsList := collapseWarnings(warnings)

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		renderer := output.NewPretty(cmd.OutOrStdout())
		if err := renderer.RenderList(workflows); err != nil {
			return err
		}
		for _, msg := range warningsList {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
		}
	case config.FormatJSON:
		plans := make(map[string][][]string, len(workflows))
		for _, wf := range workflows {
			waves, err := engine.Plan(wf)
			if err != nil {
				warningsList = append(warningsList, err.Error())
				continue
			}
			plans[wf.Path] = waves
		}
		report := output.Report{
			Provider:  providerName,
			Workflows: workflows,
			Plans:     plans,
			Warnings:  warningsList,
		}
		if err := output.NewJSON(cmd.OutOrStdout()).Render(report); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	return nil
}
