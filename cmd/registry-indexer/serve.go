package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/xelpkg/registry/pkg/jobs"
	"github.com/xelpkg/registry/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the submission API and indexing workers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize indexer: %v", err)
	}
	defer a.Close()

	queue := jobs.NewQueue(a.jobStore, a.processor, cfg.Jobs(), logger)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(a.db, queue, a.jobStore, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("registry indexer ready", "listen", cfg.Listen, "concurrency", cfg.IndexConcurrency)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Running submissions finish; queued ones resume on the next start.
	<-queueDone
	logger.Info("registry indexer stopped")
}
