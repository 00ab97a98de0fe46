package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
)

var (
	_ gaps.Store            = (*Store)(nil)
	_ gaps.ConsolidateStore = (*Store)(nil)
)

const gapColumns = `id, tenant_id, question_key, question, category, status, frequency, avg_confidence,
	last_asked_at, escalated, resolved_by, resolved_answer, resolved_source_id, resolved_at, created_at`

func scanGap(row pgx.Row, extra ...any) (*domain.KnowledgeGap, error) {
	var g domain.KnowledgeGap
	var status string
	dest := []any{&g.ID, &g.TenantID, &g.QuestionKey, &g.Question, &g.Category, &status, &g.Frequency, &g.AvgConfidence,
		&g.LastAskedAt, &g.Escalated, &g.ResolvedBy, &g.ResolvedAnswer, &g.ResolvedSourceID, &g.ResolvedAt, &g.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	g.Status = domain.GapStatus(status)
	return &g, nil
}

// gapTx runs the aggregator's reads and writes inside one pgx transaction.
type gapTx struct {
	tx pgx.Tx
}

func (t *gapTx) FindOpenGap(ctx context.Context, tenantID uuid.UUID, key string) (*domain.KnowledgeGap, error) {
	g, err := scanGap(t.tx.QueryRow(ctx, `
		SELECT `+gapColumns+`
		FROM knowledge_gaps
		WHERE tenant_id = $1 AND question_key = $2 AND status IN ('open', 'in_progress')
		FOR UPDATE`,
		tenantID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find gap: %w", err)
	}
	return g, nil
}

func (t *gapTx) NearestOpenGap(ctx context.Context, tenantID uuid.UUID, category string, vec []float32, minSimilarity float64) (*domain.KnowledgeGap, error) {
	var similarity float64
	g, err := scanGap(t.tx.QueryRow(ctx, `
		SELECT `+gapColumns+`, 1 - (embedding <=> $3) AS similarity
		FROM knowledge_gaps
		WHERE tenant_id = $1 AND category = $2 AND status IN ('open', 'in_progress')
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $3) >= $4
		ORDER BY embedding <=> $3
		LIMIT 1
		FOR UPDATE`,
		tenantID, category, vectorArg(vec), minSimilarity,
	), &similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest gap: %w", err)
	}
	return g, nil
}

func (t *gapTx) InsertGap(ctx context.Context, g *domain.KnowledgeGap, vec []float32) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO knowledge_gaps (id, tenant_id, question_key, question, category, status, frequency, avg_confidence, last_asked_at, escalated, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		g.ID, g.TenantID, g.QuestionKey, g.Question, g.Category, string(g.Status), g.Frequency, g.AvgConfidence,
		g.LastAskedAt, g.Escalated, vectorArg(vec), g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gap: %w", err)
	}
	return nil
}

func (t *gapTx) UpdateGap(ctx context.Context, g *domain.KnowledgeGap) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE knowledge_gaps
		SET frequency = $2, avg_confidence = $3, last_asked_at = $4, escalated = $5
		WHERE id = $1`,
		g.ID, g.Frequency, g.AvgConfidence, g.LastAskedAt, g.Escalated,
	)
	if err != nil {
		return fmt.Errorf("update gap: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gap %s: %w", g.ID, domain.ErrNotFound)
	}
	return nil
}

// RecordGaps runs apply and the watermark update in one transaction.
func (s *Store) RecordGaps(ctx context.Context, conversationID uuid.UUID, through time.Time, apply func(tx gaps.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := apply(&gapTx{tx: tx}); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET gaps_processed_through = $2
		WHERE id = $1`,
		conversationID, through,
	)
	if err != nil {
		return fmt.Errorf("advance gap watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListGaps returns a tenant's gaps in status, most frequent first.
func (s *Store) ListGaps(ctx context.Context, tenantID uuid.UUID, status domain.GapStatus, limit int) ([]domain.KnowledgeGap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gapColumns+`
		FROM knowledge_gaps
		WHERE tenant_id = $1 AND status = $2
		ORDER BY frequency DESC, last_asked_at DESC
		LIMIT $3`,
		tenantID, string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query gaps: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (s *Store) GetGap(ctx context.Context, id uuid.UUID) (*domain.KnowledgeGap, error) {
	g, err := scanGap(s.pool.QueryRow(ctx, `
		SELECT `+gapColumns+`
		FROM knowledge_gaps
		WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, notFound(err, "gap "+id.String())
	}
	return g, nil
}

// SaveGapStatus persists the triage fields of g.
func (s *Store) SaveGapStatus(ctx context.Context, g *domain.KnowledgeGap) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_gaps
		SET status = $2, resolved_by = $3, resolved_answer = $4, resolved_source_id = $5, resolved_at = $6
		WHERE id = $1`,
		g.ID, string(g.Status), g.ResolvedBy, g.ResolvedAnswer, g.ResolvedSourceID, g.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update gap status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gap %s: %w", g.ID, domain.ErrNotFound)
	}
	return nil
}

// FindGapDuplicates returns pairs of the tenant's open gaps in the same
// category whose question embeddings are at least threshold similar.
func (s *Store) FindGapDuplicates(ctx context.Context, tenantID uuid.UUID, threshold float64) ([]gaps.DuplicatePair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, b.id, 1 - (a.embedding <=> b.embedding) AS similarity
		FROM knowledge_gaps a, knowledge_gaps b
		WHERE a.id < b.id
		  AND a.tenant_id = $1 AND b.tenant_id = $1
		  AND a.category = b.category
		  AND a.status IN ('open', 'in_progress') AND b.status IN ('open', 'in_progress')
		  AND a.embedding IS NOT NULL AND b.embedding IS NOT NULL
		  AND 1 - (a.embedding <=> b.embedding) >= $2
		ORDER BY similarity DESC`,
		tenantID, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("query gap duplicates: %w", err)
	}
	defer rows.Close()

	var pairs []gaps.DuplicatePair
	for rows.Next() {
		var pair gaps.DuplicatePair
		if err := rows.Scan(&pair.ID1, &pair.ID2, &pair.Similarity); err != nil {
			return nil, fmt.Errorf("scan duplicate pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pairs, nil
}

// MergeGaps locks the cluster's open gaps, folds them with merge and writes
// the survivor's counts and the dismissals in one transaction.
func (s *Store) MergeGaps(ctx context.Context, ids []uuid.UUID, merge gaps.MergeFunc) (*domain.KnowledgeGap, []uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+gapColumns+`
		FROM knowledge_gaps
		WHERE id = ANY($1) AND status IN ('open', 'in_progress')
		ORDER BY id
		FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("lock cluster: %w", err)
	}
	var members []*domain.KnowledgeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan gap: %w", err)
		}
		members = append(members, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}
	if len(members) < 2 {
		return nil, nil, nil
	}

	survivor, merged := merge(members)
	if err := (&gapTx{tx: tx}).UpdateGap(ctx, survivor); err != nil {
		return nil, nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE knowledge_gaps
		SET status = 'dismissed', resolved_by = $2, resolved_at = now()
		WHERE id = ANY($1)`,
		merged, "merged:"+survivor.ID.String(),
	); err != nil {
		return nil, nil, fmt.Errorf("dismiss merged gaps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return survivor, merged, nil
}
