package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/ingest"
)

// Handler processes ingestion tasks.
type Handler struct {
	ingester ingest.Ingester
	logger   *slog.Logger
}

func NewHandler(ingester ingest.Ingester, logger *slog.Logger) *Handler {
	return &Handler{ingester: ingester, logger: logger}
}

// ProcessIngest runs the pipeline for the task's source. Malformed payloads
// and unknown sources are not retried.
func (h *Handler) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var p IngestPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal ingest payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := h.ingester.Ingest(ctx, p.SourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ingest %s: %v: %w", p.SourceID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", p.SourceID, err)
	}
	h.logger.Info("ingest task done", "source_id", p.SourceID, "chunks", n)
	return nil
}

// Mux routes task types to the handler.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIngestSource, h.ProcessIngest)
	return mux
}

// NewServer builds the asynq worker server.
func NewServer(opt asynq.RedisConnOpt, concurrency int, logger *slog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				"type", task.Type(),
				"retry", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
	})
}
