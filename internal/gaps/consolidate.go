package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// ConsolidateResult reports a near-duplicate merge pass.
type ConsolidateResult struct {
	Threshold float64         `json:"threshold"`
	Execute   bool            `json:"execute"`
	Clusters  int             `json:"clusters"`
	Merged    int             `json:"merged"`
	Details   []ClusterDetail `json:"details,omitempty"`
}

// ClusterDetail describes one group of duplicate gaps.
type ClusterDetail struct {
	SurvivorID uuid.UUID   `json:"survivor_id"`
	MergedIDs  []uuid.UUID `json:"merged_ids"`
	Size       int         `json:"size"`
}

// Consolidator folds open gaps whose questions turned out to be the same
// into a single survivor.
type Consolidator struct {
	store  ConsolidateStore
	logger *slog.Logger
}

func NewConsolidator(store ConsolidateStore, logger *slog.Logger) *Consolidator {
	return &Consolidator{store: store, logger: logger}
}

// Consolidate clusters duplicate pairs and, when execute is set, merges each
// cluster into its most frequent member. The merge re-reads the members under
// lock, so occurrences recorded by a concurrent sweep are kept.
func (c *Consolidator) Consolidate(ctx context.Context, tenantID uuid.UUID, threshold float64, execute bool) (*ConsolidateResult, error) {
	pairs, err := c.store.FindGapDuplicates(ctx, tenantID, threshold)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	clusters := ClusterPairs(pairs)
	result := &ConsolidateResult{Threshold: threshold, Execute: execute, Clusters: len(clusters)}

	for _, cluster := range clusters {
		var (
			survivor *domain.KnowledgeGap
			merged   []uuid.UUID
		)
		if execute {
			survivor, merged, err = c.store.MergeGaps(ctx, cluster, fold)
			if err != nil {
				c.logger.Error("failed to merge gaps", "cluster", cluster, "error", err)
				continue
			}
		} else {
			survivor, merged = c.plan(ctx, cluster)
		}
		if survivor == nil {
			continue
		}

		result.Merged += len(merged)
		result.Details = append(result.Details, ClusterDetail{
			SurvivorID: survivor.ID,
			MergedIDs:  merged,
			Size:       len(merged) + 1,
		})
	}

	c.logger.Info("gap consolidation completed", "tenant_id", tenantID, "clusters", result.Clusters, "merged", result.Merged, "execute", execute)
	return result, nil
}

// plan folds a snapshot of the cluster without writing anything.
func (c *Consolidator) plan(ctx context.Context, cluster []uuid.UUID) (*domain.KnowledgeGap, []uuid.UUID) {
	members := make([]*domain.KnowledgeGap, 0, len(cluster))
	for _, id := range cluster {
		g, err := c.store.GetGap(ctx, id)
		if err != nil {
			c.logger.Error("failed to load gap", "gap_id", id, "error", err)
			continue
		}
		if g.Status.Matchable() {
			members = append(members, g)
		}
	}
	if len(members) < 2 {
		return nil, nil
	}
	return fold(members)
}

// fold picks the most frequent gap as survivor (oldest on ties) and merges
// the others' counts into it.
func fold(members []*domain.KnowledgeGap) (*domain.KnowledgeGap, []uuid.UUID) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Frequency != members[j].Frequency {
			return members[i].Frequency > members[j].Frequency
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})

	survivor := members[0]
	total := float64(survivor.Frequency)
	sum := survivor.AvgConfidence * total
	merged := make([]uuid.UUID, 0, len(members)-1)

	for _, g := range members[1:] {
		sum += g.AvgConfidence * float64(g.Frequency)
		total += float64(g.Frequency)
		survivor.Frequency += g.Frequency
		survivor.Escalated = survivor.Escalated || g.Escalated
		if g.LastAskedAt.After(survivor.LastAskedAt) {
			survivor.LastAskedAt = g.LastAskedAt
		}
		merged = append(merged, g.ID)
	}
	if total > 0 {
		survivor.AvgConfidence = sum / total
	}
	return survivor, merged
}

// ClusterPairs groups duplicate pairs into connected components using
// union-find. Singletons are dropped.
func ClusterPairs(pairs []DuplicatePair) [][]uuid.UUID {
	if len(pairs) == 0 {
		return nil
	}

	parent := make(map[uuid.UUID]uuid.UUID)
	for _, p := range pairs {
		if _, ok := parent[p.ID1]; !ok {
			parent[p.ID1] = p.ID1
		}
		if _, ok := parent[p.ID2]; !ok {
			parent[p.ID2] = p.ID2
		}
	}

	var find func(uuid.UUID) uuid.UUID
	find = func(id uuid.UUID) uuid.UUID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}

	for _, p := range pairs {
		r1, r2 := find(p.ID1), find(p.ID2)
		if r1 != r2 {
			parent[r2] = r1
		}
	}

	groups := make(map[uuid.UUID][]uuid.UUID)
	for id := range parent {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters [][]uuid.UUID
	for _, g := range groups {
		if len(g) > 1 {
			clusters = append(clusters, g)
		}
	}
	return clusters
}
