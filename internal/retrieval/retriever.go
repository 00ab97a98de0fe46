// Package retrieval finds the chunks most relevant to a question and
// assembles them into an attributed prompt context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
)

const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.3
)

var tracer = otel.Tracer("github.com/MikeSquared-Agency/sage/internal/retrieval")

// Index is the vector index read side.
type Index interface {
	Query(ctx context.Context, tenantID uuid.UUID, vec []float32, topK int, minSimilarity float64) ([]domain.RetrievedChunk, error)
}

// Options tune one retrieval. A zero TopK or a nil MinSimilarity falls back
// to the defaults; an explicit floor of 0 is honoured.
type Options struct {
	TopK          int
	MinSimilarity *float64
}

// Floor returns a similarity floor for Options.MinSimilarity.
func Floor(v float64) *float64 { return &v }

func (o Options) resolve() (topK int, floor float64) {
	topK, floor = o.TopK, DefaultMinSimilarity
	if topK <= 0 {
		topK = DefaultTopK
	}
	if o.MinSimilarity != nil {
		floor = *o.MinSimilarity
	}
	return topK, floor
}

type Retriever struct {
	embedder     embedding.Service
	index        Index
	queryTimeout time.Duration
	logger       *slog.Logger
}

func NewRetriever(embedder embedding.Service, index Index, queryTimeout time.Duration, logger *slog.Logger) *Retriever {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Retriever{embedder: embedder, index: index, queryTimeout: queryTimeout, logger: logger}
}

// Retrieve returns up to TopK of the tenant's chunks with similarity at or
// above MinSimilarity, most similar first. Any embedding or index failure
// is logged and yields an empty result so the caller can still answer.
func (r *Retriever) Retrieve(ctx context.Context, tenantID uuid.UUID, query string, opts Options) []domain.RetrievedChunk {
	topK, floor := opts.resolve()

	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.Int("top_k", topK),
		attribute.Float64("min_similarity", floor),
	)

	if strings.TrimSpace(query) == "" {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed")
		r.logger.Warn("retrieval embedding failed", "tenant_id", tenantID, "error", err)
		return nil
	}

	qctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	hits, err := r.index.Query(qctx, tenantID, vec, topK, floor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query")
		r.logger.Warn("vector query failed", "tenant_id", tenantID, "error", err)
		return nil
	}

	out := make([]domain.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= floor {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}

	span.SetAttributes(attribute.Int("hits", len(out)))
	r.logger.Debug("retrieved chunks", "tenant_id", tenantID, "hits", len(out))
	return out
}

const contextSeparator = "\n\n---\n\n"

// BuildContext renders chunks as numbered, attributed sections for the
// completion prompt. The order of chunks is kept.
func BuildContext(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, c.Metadata.SourceTitle, c.Content)
	}
	return strings.Join(parts, contextSeparator)
}
