package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "localci",
		Short:         "Localci runs CI pipelines on your machine",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("provider", "", "workflow provider to use (auto|github|hcl)")
	persistent.StringArray("workflow", nil, "workflow or pipeline file to include")
	persistent.StringArray("job", nil, "job filter (repeatable)")
	persistent.StringArray("only-step", nil, "include only matching steps")
	persistent.StringArray("skip-step", nil, "exclude matching steps")
	persistent.Bool("dry-run", false, "print commands without executing them")
	persistent.BoolP("verbose", "v", false, "stream command output in real time")
	persistent.String("format", "pretty", "output format (pretty|json)")
	persistent.String("log-level", "warn", "diagnostic log level (debug|info|warn|error)")
	persistent.String("log-format", "text", "diagnostic log format (text|json)")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}

// addExecutionFlags registers the flags shared by commands that run jobs.
func addExecutionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Duration("step-timeout", 0, "default timeout for steps without timeout-minutes")
	flags.Int("max-parallel", 0, "maximum concurrent jobs per wave (0 = unbounded)")
	flags.Bool("isolate", false, "run each job in a fresh clone of the repository")
	flags.String("cache-dir", "", "directory for cached step artifacts")
	flags.String("report-dir", "", "directory for run reports and step logs")
	flags.String("status-url", "", "endpoint receiving commit status updates")
	flags.Bool("allow-privileged", false, "run steps that use privileged commands such as sudo")
}
