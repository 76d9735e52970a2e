package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgricker/localci/internal/cache"
	"github.com/bgricker/localci/internal/ctxlog"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the step artifact cache",
	}
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove cache entries older than --older-than",
		RunE:  runCachePrune,
	}
	prune.Flags().Duration("older-than", 7*24*time.Hour, "maximum age of entries to keep")
	prune.Flags().String("cache-dir", "", "directory for cached step artifacts")
	cmd.AddCommand(prune)
	return cmd
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(commandContext(cmd, cfg))

	maxAge, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return fmt.Errorf("parse --older-than: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", maxAge)
	}

	dir := resolvePath(root, cfg.CacheDir)
	removed, err := cache.NewFileCache(dir).Prune(maxAge, time.Now())
	if err != nil {
		return err
	}
	logger.Info("cache pruned", "dir", dir, "removed", removed)
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries from %s\n", removed, dir)
	return nil
}
