package gaps

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// Exchange is an assistant answer paired with the user question before it.
type Exchange struct {
	Question      string
	Answer        string
	Category      string
	Confidence    float64
	HasConfidence bool
	Escalated     bool
	AskedAt       time.Time
	AnsweredAt    time.Time
}

// IsGap reports whether the exchange counts as an unanswered question.
// Answers without a confidence only count when they were escalated.
func (e Exchange) IsGap(escalateThreshold float64) bool {
	if e.Escalated {
		return true
	}
	return e.HasConfidence && e.Confidence < escalateThreshold
}

// Cacheable reports whether the exchange is a confident answer worth reusing.
func (e Exchange) Cacheable(escalateThreshold float64) bool {
	return !e.Escalated && e.HasConfidence && e.Confidence >= escalateThreshold &&
		e.Question != "" && e.Answer != ""
}

// Exchanges pairs every assistant message newer than after with the closest
// preceding user message. msgs must be ordered by creation time.
func Exchanges(msgs []domain.Message, after *time.Time) []Exchange {
	var out []Exchange
	var lastUser *domain.Message

	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case domain.RoleUser:
			lastUser = m
		case domain.RoleAssistant:
			if after != nil && !m.CreatedAt.After(*after) {
				continue
			}
			ex := Exchange{
				Answer:     m.Content,
				Category:   m.Category,
				Escalated:  m.Escalated,
				AskedAt:    m.CreatedAt,
				AnsweredAt: m.CreatedAt,
			}
			if m.Confidence != nil {
				ex.Confidence = *m.Confidence
				ex.HasConfidence = true
			}
			if lastUser != nil {
				ex.Question = lastUser.Content
				ex.AskedAt = lastUser.CreatedAt
				if ex.Category == "" {
					ex.Category = lastUser.Category
				}
			}
			out = append(out, ex)
		}
	}
	return out
}

// NewGap creates an open gap from a first occurrence.
func NewGap(tenantID uuid.UUID, key string, ex Exchange, now time.Time) *domain.KnowledgeGap {
	return &domain.KnowledgeGap{
		ID:            uuid.New(),
		TenantID:      tenantID,
		QuestionKey:   key,
		Question:      ex.Question,
		Category:      Category(ex.Category),
		Status:        domain.GapOpen,
		Frequency:     1,
		AvgConfidence: ex.Confidence,
		LastAskedAt:   ex.AskedAt,
		Escalated:     ex.Escalated,
		CreatedAt:     now,
	}
}

// Merge folds another occurrence into g, keeping avg_confidence as the
// running mean over all occurrences.
func Merge(g *domain.KnowledgeGap, ex Exchange) {
	old := float64(g.Frequency)
	g.AvgConfidence = (g.AvgConfidence*old + ex.Confidence) / (old + 1)
	g.Frequency++
	if ex.AskedAt.After(g.LastAskedAt) {
		g.LastAskedAt = ex.AskedAt
	}
	g.Escalated = g.Escalated || ex.Escalated
}
