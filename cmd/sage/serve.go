package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sage/internal/api"
	"github.com/MikeSquared-Agency/sage/internal/conversation"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
	"github.com/MikeSquared-Agency/sage/internal/ingest"
	"github.com/MikeSquared-Agency/sage/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the source-change subscriber and the gap sweep schedule",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{events: true})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info("sage starting", "port", cfg.Port, "version", version)

	// Ingestion runs on asynq workers when Redis is available, otherwise in-process.
	var trigger ingest.Trigger
	if cfg.RedisURL != "" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		qc := queue.NewClient(redisOpt, logger)
		defer qc.Close()
		trigger = qc
		logger.Info("ingestion queued on asynq")
	} else {
		bg, err := ingest.NewBackground(a.pipeline, cfg.IngestWorkers, logger)
		if err != nil {
			return err
		}
		defer bg.Close()
		trigger = bg
		logger.Warn("REDIS_URL not set, ingesting in-process")
	}

	if a.events != nil {
		if err := ingest.SubscribeChanges(a.events, trigger, logger); err != nil {
			return fmt.Errorf("subscribe to source changes: %w", err)
		}
	}

	machine := conversation.New(a.store, a.publisher(), logger)
	asst, err := a.assistant(machine)
	if err != nil {
		return err
	}

	aggregator := a.aggregator()
	scheduler := gaps.NewScheduler(aggregator, cfg.GapSweepInterval, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Assistant:     asst,
		Conversations: machine,
		Trigger:       trigger,
		Sources:       a.store,
		Gaps:          gaps.NewAdmin(a.store, logger),
		Sweeper:       aggregator,
		Consolidator:  gaps.NewConsolidator(a.store, logger),
		Checks:        a.checks(),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if a.events != nil {
		if err := a.events.Publish("sage.service.started", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"version":   version,
		}); err != nil {
			logger.Warn("failed to publish startup event", "error", err)
		}
	}
	logger.Info("sage ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("sage stopped")
	return nil
}
