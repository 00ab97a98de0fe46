package domain

import (
	"time"

	"github.com/google/uuid"
)

// GapStatus is the triage state of a knowledge gap.
type GapStatus string

const (
	GapOpen       GapStatus = "open"
	GapInProgress GapStatus = "in_progress"
	GapResolved   GapStatus = "resolved"
	GapDismissed  GapStatus = "dismissed"
)

// Valid reports whether s is a known gap status.
func (s GapStatus) Valid() bool {
	switch s {
	case GapOpen, GapInProgress, GapResolved, GapDismissed:
		return true
	}
	return false
}

// Matchable reports whether new occurrences may still be merged into a gap
// in this status.
func (s GapStatus) Matchable() bool {
	return s == GapOpen || s == GapInProgress
}

// CanTransition reports whether an operator may move a gap from s to next.
// Resolved and dismissed are terminal.
func (s GapStatus) CanTransition(next GapStatus) bool {
	switch s {
	case GapOpen:
		return next == GapInProgress || next == GapResolved || next == GapDismissed
	case GapInProgress:
		return next == GapOpen || next == GapResolved || next == GapDismissed
	}
	return false
}

// KnowledgeGap is a deduplicated, frequency-weighted unanswered question.
type KnowledgeGap struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	QuestionKey      string     `json:"question_key"`
	Question         string     `json:"question"`
	Category         string     `json:"category"`
	Status           GapStatus  `json:"status"`
	Frequency        int        `json:"frequency"`
	AvgConfidence    float64    `json:"avg_confidence"`
	LastAskedAt      time.Time  `json:"last_asked_at"`
	Escalated        bool       `json:"escalated"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAnswer   string     `json:"resolved_answer,omitempty"`
	ResolvedSourceID *uuid.UUID `json:"resolved_source_id,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
