package gaps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// Store is the persistence the aggregator needs.
type Store interface {
	// IdleConversations returns conversations whose last message is older
	// than idleBefore and newer than their gap watermark.
	IdleConversations(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Conversation, error)
	// ConversationMessages returns all messages ordered by creation time.
	ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	// RecordGaps runs apply in one transaction and advances the conversation's
	// watermark to through when apply succeeds.
	RecordGaps(ctx context.Context, conversationID uuid.UUID, through time.Time, apply func(tx Tx) error) error
}

// Tx is the transactional view used while recording one conversation.
type Tx interface {
	// FindOpenGap returns the open or in-progress gap with key, or nil.
	FindOpenGap(ctx context.Context, tenantID uuid.UUID, key string) (*domain.KnowledgeGap, error)
	// NearestOpenGap returns the most similar open or in-progress gap in the
	// category with similarity >= minSimilarity, or nil.
	NearestOpenGap(ctx context.Context, tenantID uuid.UUID, category string, vec []float32, minSimilarity float64) (*domain.KnowledgeGap, error)
	InsertGap(ctx context.Context, gap *domain.KnowledgeGap, vec []float32) error
	UpdateGap(ctx context.Context, gap *domain.KnowledgeGap) error
}

// AdminStore backs gap triage.
type AdminStore interface {
	ListGaps(ctx context.Context, tenantID uuid.UUID, status domain.GapStatus, limit int) ([]domain.KnowledgeGap, error)
	GetGap(ctx context.Context, id uuid.UUID) (*domain.KnowledgeGap, error)
	SaveGapStatus(ctx context.Context, gap *domain.KnowledgeGap) error
}

// DuplicatePair is two open gaps whose questions embed close together.
type DuplicatePair struct {
	ID1        uuid.UUID
	ID2        uuid.UUID
	Similarity float64
}

// ConsolidateStore backs merging of near-duplicate gaps.
type ConsolidateStore interface {
	AdminStore
	FindGapDuplicates(ctx context.Context, tenantID uuid.UUID, threshold float64) ([]DuplicatePair, error)
	// MergeGaps locks the cluster's gaps that are still open or in progress,
	// folds them with merge and writes the result, all in one transaction.
	// It returns a nil survivor when fewer than two members remain.
	MergeGaps(ctx context.Context, ids []uuid.UUID, merge MergeFunc) (*domain.KnowledgeGap, []uuid.UUID, error)
}

// MergeFunc folds cluster members into a survivor and reports the ids that
// were merged into it.
type MergeFunc func(members []*domain.KnowledgeGap) (survivor *domain.KnowledgeGap, merged []uuid.UUID)

// QACache stores confident answers for reuse.
type QACache interface {
	Put(ctx context.Context, tenantID uuid.UUID, category, question, answer string, confidence float64) error
}
