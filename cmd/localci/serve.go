package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/engine"
	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept webhook events and run the workflows they trigger",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "address to listen on")
	cmd.Flags().Int("retain-runs", server.DefaultRetainRuns, "finished runs kept for the status API")
	addExecutionFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
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
	for _, msg := range collapseWarnings(filtered.warnings) {
		logger.Warn(msg)
	}

	sinks := []report.Sink{report.LogSink{Logger: logger}}
	if cfg.ReportDir != "" {
		sinks = append(sinks, report.NewFileSink(resolvePath(root, cfg.ReportDir), logger))
	}
	if cfg.StatusURL != "" {
		httpSink := report.NewHTTPSink(cfg.StatusURL, cfg.StatusToken, logger)
		defer httpSink.Close()
		sinks = append(sinks, httpSink)
	}

	retain, err := cmd.Flags().GetInt("retain-runs")
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Engine: engine.Options{
			Runner:      runnerOptions(root, cfg),
			MaxParallel: cfg.MaxParallel,
			Sink:        report.Multi(sinks...),
		},
		Workflows:  filtered.workflows,
		Logger:     logger,
		RetainRuns: retain,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "workflows", len(filtered.workflows))
		fmt.Fprintf(cmd.OutOrStdout(), "localci listening on %s\n", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
