package main

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sage/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingestion tasks",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for the worker")
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{requireDB: true, events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	handler := queue.NewHandler(a.pipeline, a.logger)
	srv := queue.NewServer(redisOpt, cfg.IngestWorkers, a.logger)
	a.logger.Info("ingest worker starting", "concurrency", cfg.IngestWorkers)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(handler.Mux()); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
