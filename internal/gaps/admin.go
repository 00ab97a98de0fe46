package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Admin is the triage surface for knowledge gaps.
type Admin struct {
	store  AdminStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAdmin(store AdminStore, logger *slog.Logger) *Admin {
	return &Admin{store: store, logger: logger, now: time.Now}
}

// List returns a tenant's gaps, most frequent first. An empty status lists
// open gaps.
func (a *Admin) List(ctx context.Context, tenantID uuid.UUID, status domain.GapStatus, limit int) ([]domain.KnowledgeGap, error) {
	if status == "" {
		status = domain.GapOpen
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown gap status %q", domain.ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return a.store.ListGaps(ctx, tenantID, status, limit)
}

// Resolve marks a gap answered. sourceID optionally points at the source
// that now covers the question.
func (a *Admin) Resolve(ctx context.Context, id uuid.UUID, by, answer string, sourceID *uuid.UUID) (*domain.KnowledgeGap, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", domain.ErrInvalidInput)
	}
	gap, err := a.store.GetGap(ctx, id)
	if err != nil {
		return nil, err
	}
	if !gap.Status.CanTransition(domain.GapResolved) {
		return nil, fmt.Errorf("%w: gap %s is %s", domain.ErrInvalidTransition, id, gap.Status)
	}

	now := a.now()
	gap.Status = domain.GapResolved
	gap.ResolvedBy = by
	gap.ResolvedAnswer = answer
	gap.ResolvedSourceID = sourceID
	gap.ResolvedAt = &now

	if err := a.store.SaveGapStatus(ctx, gap); err != nil {
		return nil, fmt.Errorf("resolve gap %s: %w", id, err)
	}
	a.logger.Info("gap resolved", "gap_id", id, "tenant_id", gap.TenantID, "resolved_by", by)
	return gap, nil
}

// SetStatus moves a gap to in_progress, open or dismissed.
func (a *Admin) SetStatus(ctx context.Context, id uuid.UUID, status domain.GapStatus) (*domain.KnowledgeGap, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown gap status %q", domain.ErrInvalidInput, status)
	}
	if status == domain.GapResolved {
		return nil, fmt.Errorf("%w: use resolve to close a gap with an answer", domain.ErrInvalidInput)
	}
	gap, err := a.store.GetGap(ctx, id)
	if err != nil {
		return nil, err
	}
	if gap.Status == status {
		return gap, nil
	}
	if !gap.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: gap %s: %s -> %s", domain.ErrInvalidTransition, id, gap.Status, status)
	}

	gap.Status = status
	if err := a.store.SaveGapStatus(ctx, gap); err != nil {
		return nil, fmt.Errorf("update gap %s: %w", id, err)
	}
	a.logger.Info("gap status changed", "gap_id", id, "status", status)
	return gap, nil
}
