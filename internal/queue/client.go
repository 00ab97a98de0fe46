package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/MikeSquared-Agency/sage/internal/ingest"
)

var _ ingest.Trigger = (*Client)(nil)

// Client enqueues ingestion tasks.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

func NewClient(opt asynq.RedisConnOpt, logger *slog.Logger) *Client {
	return &Client{client: asynq.NewClient(opt), logger: logger}
}

// Enqueue schedules ingestion of a source.
func (c *Client) Enqueue(ctx context.Context, sourceID uuid.UUID) error {
	task, err := NewIngestTask(sourceID)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue ingest %s: %w", sourceID, err)
	}
	c.logger.Info("ingest queued", "source_id", sourceID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
