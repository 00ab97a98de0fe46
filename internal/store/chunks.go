package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Upsert writes a chunk. The tenant is copied from the owning source row,
// never taken from the caller.
func (s *Store) Upsert(ctx context.Context, c domain.Chunk) error {
	return upsertChunk(ctx, s.pool, c)
}

func upsertChunk(ctx context.Context, q execer, c domain.Chunk) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO chunks (id, tenant_id, source_id, content, embedding, metadata, created_at)
		SELECT $1::uuid, s.tenant_id, s.id, $3::text, $4::vector, $5::jsonb, now()
		FROM sources s
		WHERE s.id = $2
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		c.ID, c.SourceID, c.Content, pgvector.NewVector(c.Embedding), c.Metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", c.SourceID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, tenantID, sourceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND source_id = $2`, tenantID, sourceID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// ReplaceChunks swaps a source's chunk set in one transaction, so readers
// see either the old set or the new one.
func (s *Store) ReplaceChunks(ctx context.Context, tenantID, sourceID uuid.UUID, chunks []domain.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner uuid.UUID
	err = tx.QueryRow(ctx, `SELECT tenant_id FROM sources WHERE id = $1 FOR UPDATE`, sourceID).Scan(&owner)
	if err != nil {
		return notFound(err, "source "+sourceID.String())
	}
	if owner != tenantID {
		return fmt.Errorf("source %s: %w", sourceID, domain.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND source_id = $2`, tenantID, sourceID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		c.SourceID = sourceID
		if err := upsertChunk(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query returns the tenant's chunks with cosine similarity >= minSimilarity,
// most similar first.
func (s *Store) Query(ctx context.Context, tenantID uuid.UUID, vec []float32, topK int, minSimilarity float64) ([]domain.RetrievedChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, content, metadata, 1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE tenant_id = $1 AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`,
		tenantID, pgvector.NewVector(vec), minSimilarity, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievedChunk
	for rows.Next() {
		var rc domain.RetrievedChunk
		if err := rows.Scan(&rc.ChunkID, &rc.SourceID, &rc.Content, &rc.Metadata, &rc.Similarity); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// SourceChunks returns a source's chunks ordered by chunk index, without
// embeddings.
func (s *Store) SourceChunks(ctx context.Context, sourceID uuid.UUID) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, source_id, content, metadata, created_at
		FROM chunks
		WHERE source_id = $1
		ORDER BY (metadata->>'chunk_index')::int`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query source chunks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Chunk, error) {
		var c domain.Chunk
		err := row.Scan(&c.ID, &c.TenantID, &c.SourceID, &c.Content, &c.Metadata, &c.CreatedAt)
		return c, err
	})
}
