//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func createSource(t *testing.T, s *Store, tenant uuid.UUID) *domain.Source {
	t.Helper()
	ctx := context.Background()
	src := &domain.Source{TenantID: tenant, Title: "Handbook", Type: domain.SourceText, Content: "body"}
	if err := s.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM sources WHERE id = $1", src.ID)
	})
	return src
}

func TestIntegration_ChunksTenantIsolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()
	srcA := createSource(t, s, tenantA)
	srcB := createSource(t, s, tenantB)

	vec := []float32{1, 0, 0}
	for _, src := range []*domain.Source{srcA, srcB} {
		err := s.Upsert(ctx, domain.Chunk{
			SourceID:  src.ID,
			TenantID:  tenantA, // ignored: tenant comes from the source
			Content:   "opening hours are 9 to 5",
			Embedding: vec,
			Metadata:  domain.ChunkMetadata{ChunkIndex: 0, SourceTitle: src.Title},
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := s.Query(ctx, tenantB, vec, 5, 0.3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk for tenant B, got %d", len(got))
	}
	if got[0].SourceID != srcB.ID {
		t.Errorf("expected chunk from source B, got %s", got[0].SourceID)
	}
	if got[0].Similarity < 0.999 {
		t.Errorf("expected similarity ~1, got %f", got[0].Similarity)
	}
	if got[0].Metadata.SourceTitle != "Handbook" {
		t.Errorf("expected metadata to round-trip, got %+v", got[0].Metadata)
	}

	if err := s.Upsert(ctx, domain.Chunk{SourceID: uuid.New(), Content: "x", Embedding: vec}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown source, got %v", err)
	}
}

func TestIntegration_ReplaceChunksAndStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()
	src := createSource(t, s, tenant)

	chunks := []domain.Chunk{
		{Content: "one", Embedding: []float32{1, 0, 0}, Metadata: domain.ChunkMetadata{ChunkIndex: 0}},
		{Content: "two", Embedding: []float32{0, 1, 0}, Metadata: domain.ChunkMetadata{ChunkIndex: 1}},
	}
	for i := 0; i < 2; i++ {
		if err := s.ReplaceChunks(ctx, tenant, src.ID, chunks); err != nil {
			t.Fatalf("ReplaceChunks failed: %v", err)
		}
	}
	stored, err := s.SourceChunks(ctx, src.ID)
	if err != nil {
		t.Fatalf("SourceChunks failed: %v", err)
	}
	if len(stored) != 2 || stored[0].Content != "one" || stored[1].Content != "two" {
		t.Errorf("expected 2 ordered chunks after re-index, got %+v", stored)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.UpdateSourceStatus(ctx, src.ID, domain.SourceIndexed, "", &now); err != nil {
		t.Fatalf("UpdateSourceStatus failed: %v", err)
	}
	if err := s.UpdateSourceStatus(ctx, src.ID, domain.SourceFailed, "embedding timeout", nil); err != nil {
		t.Fatalf("UpdateSourceStatus failed: %v", err)
	}
	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if got.Status != domain.SourceFailed || got.LastError != "embedding timeout" {
		t.Errorf("unexpected status %s / %q", got.Status, got.LastError)
	}
	if got.LastIndexedAt == nil || !got.LastIndexedAt.Equal(now) {
		t.Errorf("expected last_indexed_at to survive a failure, got %v", got.LastIndexedAt)
	}
}

func TestIntegration_ConversationLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()
	session := "it-" + uuid.NewString()[:8]

	c1, err := s.GetOrCreateConversation(ctx, tenant, session, "web")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM conversations WHERE tenant_id = $1", tenant)
	})
	c2, err := s.GetOrCreateConversation(ctx, tenant, session, "web")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatal("expected the same open conversation")
	}

	conf := 0.42
	msgs := []*domain.Message{
		{ConversationID: c1.ID, Role: domain.RoleUser, Content: "Opening hours?"},
		{ConversationID: c1.ID, Role: domain.RoleAssistant, Content: "Not sure.", Confidence: &conf, Escalated: true,
			SourcesUsed: []domain.SourceRef{{SourceID: uuid.New(), ChunkID: uuid.New(), Similarity: 0.5}}},
	}
	for i, m := range msgs {
		m.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	got, err := s.ConversationMessages(ctx, c1.ID)
	if err != nil {
		t.Fatalf("ConversationMessages failed: %v", err)
	}
	if len(got) != 2 || got[1].Confidence == nil || *got[1].Confidence != 0.42 || len(got[1].SourcesUsed) != 1 {
		t.Errorf("unexpected messages %+v", got)
	}

	ok, err := s.UpdateConversationStatus(ctx, c1.ID, domain.ConversationActive, domain.ConversationEscalated, "low confidence")
	if err != nil || !ok {
		t.Fatalf("escalate failed: ok=%v err=%v", ok, err)
	}
	ok, err = s.UpdateConversationStatus(ctx, c1.ID, domain.ConversationActive, domain.ConversationClosed, "")
	if err != nil || ok {
		t.Fatalf("stale compare-and-set should not apply: ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateConversationStatus(ctx, uuid.New(), domain.ConversationActive, domain.ConversationClosed, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.UpdateConversationStatus(ctx, c1.ID, domain.ConversationEscalated, domain.ConversationClosed, ""); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	c3, err := s.GetOrCreateConversation(ctx, tenant, session, "web")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if c3.ID == c1.ID {
		t.Error("a closed conversation must not be reused")
	}
}

func TestIntegration_RecordGapsRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()
	conv, err := s.GetOrCreateConversation(ctx, tenant, "it-"+uuid.NewString()[:8], "web")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM knowledge_gaps WHERE tenant_id = $1", tenant)
		s.pool.Exec(ctx, "DELETE FROM conversations WHERE tenant_id = $1", tenant)
	})

	now := time.Now().UTC()
	gap := gaps.NewGap(tenant, "general|opening hours", gaps.Exchange{Question: "Opening hours?", Confidence: 0.2, AskedAt: now}, now)

	boom := errors.New("boom")
	err = s.RecordGaps(ctx, conv.ID, now, func(tx gaps.Tx) error {
		if err := tx.InsertGap(ctx, gap, []float32{1, 0, 0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := s.GetGap(ctx, gap.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("gap should have been rolled back, got %v", err)
	}

	err = s.RecordGaps(ctx, conv.ID, now, func(tx gaps.Tx) error {
		if err := tx.InsertGap(ctx, gap, []float32{1, 0, 0}); err != nil {
			return err
		}
		found, err := tx.NearestOpenGap(ctx, tenant, "general", []float32{0.99, 0.01, 0}, 0.9)
		if err != nil {
			return err
		}
		if found == nil || found.ID != gap.ID {
			t.Errorf("expected nearest gap %s, got %+v", gap.ID, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RecordGaps failed: %v", err)
	}

	stored, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if stored.GapsProcessedThrough == nil {
		t.Error("expected watermark to be set")
	}
	list, err := s.ListGaps(ctx, tenant, domain.GapOpen, 10)
	if err != nil {
		t.Fatalf("ListGaps failed: %v", err)
	}
	if len(list) != 1 || list[0].Frequency != 1 {
		t.Errorf("unexpected gaps %+v", list)
	}
}
