package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// CreateSource inserts src, filling ID, Status and timestamps when unset.
func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	if !src.Type.Valid() {
		return fmt.Errorf("%w: source type %q", domain.ErrInvalidInput, src.Type)
	}
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Status == "" {
		src.Status = domain.SourcePending
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources (id, tenant_id, title, type, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		src.ID, src.TenantID, src.Title, string(src.Type), src.Content, string(src.Status),
	).Scan(&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	var src domain.Source
	var typ, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, title, type, content, status, last_indexed_at, last_error, created_at, updated_at
		FROM sources
		WHERE id = $1`,
		id,
	).Scan(&src.ID, &src.TenantID, &src.Title, &typ, &src.Content, &status, &src.LastIndexedAt, &src.LastError, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "source "+id.String())
	}
	src.Type = domain.SourceType(typ)
	src.Status = domain.SourceStatus(status)
	return &src, nil
}

// UpdateSourceStatus records an ingestion outcome. indexedAt is only
// written when non-nil so a failure keeps the last successful index time.
func (s *Store) UpdateSourceStatus(ctx context.Context, id uuid.UUID, status domain.SourceStatus, lastError string, indexedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources
		SET status = $2, last_error = $3, last_indexed_at = COALESCE($4, last_indexed_at), updated_at = now()
		WHERE id = $1`,
		id, string(status), lastError, indexedAt,
	)
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
