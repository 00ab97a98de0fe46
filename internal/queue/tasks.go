// Package queue runs source ingestion as asynq tasks backed by Redis.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TaskIngestSource = "source:ingest"

	QueueDefault = "default"

	ingestMaxRetry = 3
	ingestTimeout  = 10 * time.Minute
)

type IngestPayload struct {
	SourceID uuid.UUID `json:"source_id"`
}

// NewIngestTask builds the task for one source. Tasks are not deduplicated:
// a change that lands while the source is being ingested needs a run of its
// own, and the pipeline's per-source lock keeps runs from overlapping.
func NewIngestTask(sourceID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{SourceID: sourceID})
	if err != nil {
		return nil, fmt.Errorf("marshal ingest payload: %w", err)
	}
	return asynq.NewTask(
		TaskIngestSource,
		payload,
		asynq.MaxRetry(ingestMaxRetry),
		asynq.Timeout(ingestTimeout),
		asynq.Queue(QueueDefault),
	), nil
}
