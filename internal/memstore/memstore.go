// Package memstore is an in-process implementation of sage's persistence
// and vector index. It backs tests and single-node development setups where
// Postgres is not available. Similarity search is a brute-force cosine scan.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
)

type Store struct {
	mu       sync.RWMutex
	sources  map[uuid.UUID]domain.Source
	chunks   map[uuid.UUID]domain.Chunk
	order    []uuid.UUID
	convs    map[uuid.UUID]domain.Conversation
	messages map[uuid.UUID][]domain.Message
	gaps     map[uuid.UUID]domain.KnowledgeGap
	gapVecs  map[uuid.UUID][]float32
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sources:  make(map[uuid.UUID]domain.Source),
		chunks:   make(map[uuid.UUID]domain.Chunk),
		convs:    make(map[uuid.UUID]domain.Conversation),
		messages: make(map[uuid.UUID][]domain.Message),
		gaps:     make(map[uuid.UUID]domain.KnowledgeGap),
		gapVecs:  make(map[uuid.UUID][]float32),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// --- sources ---

func (s *Store) CreateSource(_ context.Context, src *domain.Source) error {
	if !src.Type.Valid() {
		return fmt.Errorf("%w: source type %q", domain.ErrInvalidInput, src.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Status == "" {
		src.Status = domain.SourcePending
	}
	now := s.now()
	src.CreatedAt, src.UpdatedAt = now, now
	s.sources[src.ID] = *src
	return nil
}

func (s *Store) GetSource(_ context.Context, id uuid.UUID) (*domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return &src, nil
}

func (s *Store) UpdateSourceStatus(_ context.Context, id uuid.UUID, status domain.SourceStatus, lastError string, indexedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	src.Status = status
	src.LastError = lastError
	if indexedAt != nil {
		t := *indexedAt
		src.LastIndexedAt = &t
	}
	src.UpdatedAt = s.now()
	s.sources[id] = src
	return nil
}

// --- vector index ---

func (s *Store) Upsert(_ context.Context, c domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(c)
}

func (s *Store) upsertLocked(c domain.Chunk) error {
	src, ok := s.sources[c.SourceID]
	if !ok {
		return fmt.Errorf("source %s: %w", c.SourceID, domain.ErrNotFound)
	}
	// The owning source decides the tenant.
	c.TenantID = src.TenantID
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.Embedding = append([]float32(nil), c.Embedding...)
	if _, exists := s.chunks[c.ID]; !exists {
		s.order = append(s.order, c.ID)
	}
	s.chunks[c.ID] = c
	return nil
}

func (s *Store) DeleteBySource(_ context.Context, tenantID, sourceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteBySourceLocked(tenantID, sourceID)
	return nil
}

func (s *Store) deleteBySourceLocked(tenantID, sourceID uuid.UUID) {
	kept := s.order[:0]
	for _, id := range s.order {
		c := s.chunks[id]
		if c.TenantID == tenantID && c.SourceID == sourceID {
			delete(s.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// ReplaceChunks swaps a source's chunk set atomically.
func (s *Store) ReplaceChunks(_ context.Context, tenantID, sourceID uuid.UUID, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok || src.TenantID != tenantID {
		return fmt.Errorf("source %s: %w", sourceID, domain.ErrNotFound)
	}
	s.deleteBySourceLocked(tenantID, sourceID)
	for _, c := range chunks {
		if err := s.upsertLocked(c); err != nil {
			return err
		}
	}
	return nil
}

// Query scans the tenant's chunks. Ties keep insertion order.
func (s *Store) Query(_ context.Context, tenantID uuid.UUID, vec []float32, topK int, minSimilarity float64) ([]domain.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RetrievedChunk
	for _, id := range s.order {
		c := s.chunks[id]
		if c.TenantID != tenantID {
			continue
		}
		sim := embedding.Cosine(vec, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		out = append(out, domain.RetrievedChunk{
			ChunkID:    c.ID,
			SourceID:   c.SourceID,
			Content:    c.Content,
			Metadata:   c.Metadata,
			Similarity: sim,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// SourceChunks returns a source's chunks ordered by chunk index.
func (s *Store) SourceChunks(_ context.Context, sourceID uuid.UUID) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chunk
	for _, id := range s.order {
		if c := s.chunks[id]; c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Metadata.ChunkIndex < out[j].Metadata.ChunkIndex })
	return out, nil
}
