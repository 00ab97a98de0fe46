package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
)

var (
	_ gaps.Store            = (*Store)(nil)
	_ gaps.ConsolidateStore = (*Store)(nil)
)

// gapTx stages writes until the callback returns without error.
type gapTx struct {
	s      *Store
	staged map[uuid.UUID]domain.KnowledgeGap
	vecs   map[uuid.UUID][]float32
}

func (t *gapTx) lookup(id uuid.UUID) (domain.KnowledgeGap, bool) {
	if g, ok := t.staged[id]; ok {
		return g, true
	}
	g, ok := t.s.gaps[id]
	return g, ok
}

func (t *gapTx) each(fn func(g domain.KnowledgeGap, vec []float32)) {
	for id, g := range t.s.gaps {
		if _, ok := t.staged[id]; ok {
			continue
		}
		fn(g, t.s.gapVecs[id])
	}
	for id, g := range t.staged {
		vec, ok := t.vecs[id]
		if !ok {
			vec = t.s.gapVecs[id]
		}
		fn(g, vec)
	}
}

func (t *gapTx) FindOpenGap(_ context.Context, tenantID uuid.UUID, key string) (*domain.KnowledgeGap, error) {
	var found *domain.KnowledgeGap
	t.each(func(g domain.KnowledgeGap, _ []float32) {
		if found == nil && g.TenantID == tenantID && g.QuestionKey == key && g.Status.Matchable() {
			cp := g
			found = &cp
		}
	})
	return found, nil
}

func (t *gapTx) NearestOpenGap(_ context.Context, tenantID uuid.UUID, category string, vec []float32, minSimilarity float64) (*domain.KnowledgeGap, error) {
	var best *domain.KnowledgeGap
	bestSim := minSimilarity
	t.each(func(g domain.KnowledgeGap, gv []float32) {
		if g.TenantID != tenantID || g.Category != category || !g.Status.Matchable() || gv == nil {
			return
		}
		if sim := embedding.Cosine(vec, gv); sim >= bestSim {
			cp := g
			best, bestSim = &cp, sim
		}
	})
	return best, nil
}

func (t *gapTx) InsertGap(_ context.Context, g *domain.KnowledgeGap, vec []float32) error {
	if _, exists := t.lookup(g.ID); exists {
		return fmt.Errorf("gap %s already exists", g.ID)
	}
	t.staged[g.ID] = *g
	if vec != nil {
		t.vecs[g.ID] = append([]float32(nil), vec...)
	}
	return nil
}

func (t *gapTx) UpdateGap(_ context.Context, g *domain.KnowledgeGap) error {
	if _, ok := t.lookup(g.ID); !ok {
		return fmt.Errorf("gap %s: %w", g.ID, domain.ErrNotFound)
	}
	t.staged[g.ID] = *g
	return nil
}

// RecordGaps holds the store lock for the callback; apply must only use tx.
func (s *Store) RecordGaps(ctx context.Context, conversationID uuid.UUID, through time.Time, apply func(tx gaps.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	tx := &gapTx{s: s, staged: make(map[uuid.UUID]domain.KnowledgeGap), vecs: make(map[uuid.UUID][]float32)}
	if err := apply(tx); err != nil {
		return err
	}

	for id, g := range tx.staged {
		s.gaps[id] = g
	}
	for id, v := range tx.vecs {
		s.gapVecs[id] = v
	}
	t := through
	c.GapsProcessedThrough = &t
	s.convs[conversationID] = c
	return nil
}

// ListGaps returns gaps ordered by frequency, then recency.
func (s *Store) ListGaps(_ context.Context, tenantID uuid.UUID, status domain.GapStatus, limit int) ([]domain.KnowledgeGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.KnowledgeGap
	for _, g := range s.gaps {
		if g.TenantID == tenantID && (status == "" || g.Status == status) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].LastAskedAt.After(out[j].LastAskedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetGap(_ context.Context, id uuid.UUID) (*domain.KnowledgeGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gaps[id]
	if !ok {
		return nil, fmt.Errorf("gap %s: %w", id, domain.ErrNotFound)
	}
	return &g, nil
}

func (s *Store) SaveGapStatus(_ context.Context, g *domain.KnowledgeGap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.gaps[g.ID]
	if !ok {
		return fmt.Errorf("gap %s: %w", g.ID, domain.ErrNotFound)
	}
	cur.Status = g.Status
	cur.ResolvedBy = g.ResolvedBy
	cur.ResolvedAnswer = g.ResolvedAnswer
	cur.ResolvedSourceID = g.ResolvedSourceID
	cur.ResolvedAt = g.ResolvedAt
	s.gaps[g.ID] = cur
	return nil
}

// FindGapDuplicates compares every pair of the tenant's open gaps that carry
// an embedding.
func (s *Store) FindGapDuplicates(_ context.Context, tenantID uuid.UUID, threshold float64) ([]gaps.DuplicatePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for id, g := range s.gaps {
		if g.TenantID == tenantID && g.Status.Matchable() && s.gapVecs[id] != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var pairs []gaps.DuplicatePair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := s.gaps[ids[i]], s.gaps[ids[j]]
			if a.Category != b.Category {
				continue
			}
			if sim := embedding.Cosine(s.gapVecs[ids[i]], s.gapVecs[ids[j]]); sim >= threshold {
				pairs = append(pairs, gaps.DuplicatePair{ID1: ids[i], ID2: ids[j], Similarity: sim})
			}
		}
	}
	return pairs, nil
}

// MergeGaps folds the cluster's matchable gaps under the store lock.
func (s *Store) MergeGaps(_ context.Context, ids []uuid.UUID, merge gaps.MergeFunc) (*domain.KnowledgeGap, []uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]*domain.KnowledgeGap, 0, len(ids))
	for _, id := range ids {
		g, ok := s.gaps[id]
		if !ok || !g.Status.Matchable() {
			continue
		}
		members = append(members, &g)
	}
	if len(members) < 2 {
		return nil, nil, nil
	}

	survivor, merged := merge(members)
	now := s.now()
	s.gaps[survivor.ID] = *survivor
	for _, id := range merged {
		g := s.gaps[id]
		g.Status = domain.GapDismissed
		g.ResolvedBy = "merged:" + survivor.ID.String()
		g.ResolvedAt = &now
		s.gaps[id] = g
	}
	return survivor, merged, nil
}
