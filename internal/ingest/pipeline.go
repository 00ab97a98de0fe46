// Package ingest turns a source document into embedded, tenant-scoped
// chunks in the vector index.
package ingest

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
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sage/internal/chunker"
	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
	"github.com/MikeSquared-Agency/sage/internal/hermes"
	"github.com/MikeSquared-Agency/sage/internal/lock"
)

// NoContentError is recorded on sources that produce no chunks.
const NoContentError = "no content"

var tracer = otel.Tracer("github.com/MikeSquared-Agency/sage/internal/ingest")

// Sources is the source persistence the pipeline needs.
type Sources interface {
	GetSource(ctx context.Context, id uuid.UUID) (*domain.Source, error)
	UpdateSourceStatus(ctx context.Context, id uuid.UUID, status domain.SourceStatus, lastError string, indexedAt *time.Time) error
}

// Index is the vector index write side.
type Index interface {
	Upsert(ctx context.Context, c domain.Chunk) error
	DeleteBySource(ctx context.Context, tenantID, sourceID uuid.UUID) error
}

// ChunkReplacer is implemented by indexes that can swap a source's chunks
// atomically. The pipeline prefers it over delete-then-upsert.
type ChunkReplacer interface {
	ReplaceChunks(ctx context.Context, tenantID, sourceID uuid.UUID, chunks []domain.Chunk) error
}

// Ingester indexes one source.
type Ingester interface {
	Ingest(ctx context.Context, sourceID uuid.UUID) (int, error)
}

type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	EmbedConcurrency int
}

type Pipeline struct {
	sources  Sources
	index    Index
	embedder embedding.Service
	locker   lock.Locker
	events   hermes.Publisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

var _ Ingester = (*Pipeline)(nil)

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithLocker replaces the default in-process per-source lock.
func WithLocker(l lock.Locker) Option { return func(p *Pipeline) { p.locker = l } }

// WithEvents publishes indexed/failed events.
func WithEvents(pub hermes.Publisher) Option { return func(p *Pipeline) { p.events = pub } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func NewPipeline(sources Sources, index Index, embedder embedding.Service, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	p := &Pipeline{
		sources:  sources,
		index:    index,
		embedder: embedder,
		locker:   lock.NewLocal(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest re-indexes a source and returns the number of chunks written.
// Content that yields no chunks marks the source failed and returns (0, nil).
// Embedding or persistence errors mark the source failed and are returned.
// Calls for the same source are serialised.
func (p *Pipeline) Ingest(ctx context.Context, sourceID uuid.UUID) (int, error) {
	ctx, span := tracer.Start(ctx, "ingest.source")
	defer span.End()
	span.SetAttributes(attribute.String("source_id", sourceID.String()))

	unlock, err := p.locker.Lock(ctx, lock.SourceKey(sourceID))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("lock source %s: %w", sourceID, err)
	}
	defer unlock()

	src, err := p.sources.GetSource(ctx, sourceID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("load source: %w", err)
	}
	logger := p.logger.With("source_id", src.ID, "tenant_id", src.TenantID)

	texts := chunker.Split(p.content(src, logger), p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(texts) == 0 {
		logger.Warn("source has no content")
		if err := p.fail(ctx, src, NoContentError); err != nil {
			return 0, err
		}
		return 0, nil
	}

	vecs, err := p.embedAll(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed")
		logger.Error("embedding failed", "error", err)
		_ = p.fail(ctx, src, err.Error())
		return 0, err
	}

	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:        uuid.New(),
			TenantID:  src.TenantID,
			SourceID:  src.ID,
			Content:   text,
			Embedding: vecs[i],
			Metadata:  domain.ChunkMetadata{ChunkIndex: i, SourceTitle: src.Title},
		}
	}

	if err := p.persist(ctx, src, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		logger.Error("persisting chunks failed", "error", err)
		_ = p.fail(ctx, src, err.Error())
		return 0, err
	}

	now := p.now().UTC()
	if err := p.sources.UpdateSourceStatus(ctx, src.ID, domain.SourceIndexed, "", &now); err != nil {
		return 0, fmt.Errorf("mark source indexed: %w", err)
	}

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	logger.Info("source indexed", "chunks", len(chunks))
	hermes.Emit(p.events, p.logger, hermes.SubjectSourceIndexed, hermes.SourceIndexed{
		TenantID: src.TenantID.String(),
		SourceID: src.ID.String(),
		Chunks:   len(chunks),
	})
	return len(chunks), nil
}

// content returns the text to chunk. HTML in url sources is reduced to its
// visible text; a parse failure falls back to the raw content.
func (p *Pipeline) content(src *domain.Source, logger *slog.Logger) string {
	if strings.TrimSpace(src.Content) == "" {
		return ""
	}
	if src.Type != domain.SourceURL || !LooksLikeHTML(src.Content) {
		return src.Content
	}
	text, err := HTMLToText(src.Content)
	if err != nil {
		logger.Warn("html normalisation failed, indexing raw content", "error", err)
		return src.Content
	}
	return text
}

func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// persist replaces the source's chunks. Without an atomic replace the old
// chunks are deleted first and a partial write is cleaned up on failure.
func (p *Pipeline) persist(ctx context.Context, src *domain.Source, chunks []domain.Chunk) error {
	if r, ok := p.index.(ChunkReplacer); ok {
		if err := r.ReplaceChunks(ctx, src.TenantID, src.ID, chunks); err != nil {
			return fmt.Errorf("replace chunks: %w", err)
		}
		return nil
	}

	if err := p.index.DeleteBySource(ctx, src.TenantID, src.ID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	for _, c := range chunks {
		if err := p.index.Upsert(ctx, c); err != nil {
			if derr := p.index.DeleteBySource(context.WithoutCancel(ctx), src.TenantID, src.ID); derr != nil {
				p.logger.Warn("cleanup of partial chunks failed", "source_id", src.ID, "error", derr)
			}
			return fmt.Errorf("upsert chunk %d: %w", c.Metadata.ChunkIndex, err)
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, src *domain.Source, reason string) error {
	if err := p.sources.UpdateSourceStatus(context.WithoutCancel(ctx), src.ID, domain.SourceFailed, reason, nil); err != nil {
		p.logger.Error("mark source failed", "source_id", src.ID, "error", err)
		return fmt.Errorf("mark source failed: %w", err)
	}
	hermes.Emit(p.events, p.logger, hermes.SubjectSourceFailed, hermes.SourceFailed{
		TenantID: src.TenantID.String(),
		SourceID: src.ID.String(),
		Error:    reason,
	})
	return nil
}
