package hermes

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const (
	SubjectSourceChanged         = "sage.source.changed"
	SubjectSourceIndexed         = "sage.source.indexed"
	SubjectSourceFailed          = "sage.source.failed"
	SubjectConversationEscalated = "sage.conversation.escalated"
	SubjectSweepCompleted        = "sage.gaps.sweep.completed"
)

// Publisher is the subset of Client used by components that emit events.
type Publisher interface {
	Publish(subject string, data any) error
}

// SourceChanged asks for a source to be re-ingested.
type SourceChanged struct {
	SourceID string `json:"source_id"`
}

type SourceIndexed struct {
	TenantID string `json:"tenant_id"`
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
}

type SourceFailed struct {
	TenantID string `json:"tenant_id"`
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

type ConversationEscalated struct {
	TenantID       string  `json:"tenant_id"`
	ConversationID string  `json:"conversation_id"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
}

type SweepCompleted struct {
	ConversationsProcessed int   `json:"conversations_processed"`
	QACached               int   `json:"qa_cached"`
	GapsFound              int   `json:"gaps_found"`
	GapsUpdated            int   `json:"gaps_updated"`
	Failed                 int   `json:"failed"`
	DurationMS             int64 `json:"duration_ms"`
}

// ParseSourceChanged decodes a sage.source.changed payload.
func ParseSourceChanged(data []byte) (uuid.UUID, error) {
	var ev SourceChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return uuid.Nil, fmt.Errorf("decode source changed: %w", err)
	}
	id, err := uuid.Parse(ev.SourceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("source id %q: %w", ev.SourceID, err)
	}
	return id, nil
}

// Emit publishes best effort: a nil publisher is a no-op and failures are logged.
func Emit(pub Publisher, logger *slog.Logger, subject string, data any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(subject, data); err != nil {
		logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}
