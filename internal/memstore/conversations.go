package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// GetOrCreateConversation returns the session's open conversation, starting
// a new active one when none exists or the last one was closed.
func (s *Store) GetOrCreateConversation(_ context.Context, tenantID uuid.UUID, sessionID, channel string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Conversation
	for _, c := range s.convs {
		if c.TenantID != tenantID || c.SessionID != sessionID || c.Status == domain.ConversationClosed {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			cp := c
			latest = &cp
		}
	}
	if latest != nil {
		return latest, nil
	}

	now := s.now()
	c := domain.Conversation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		SessionID:     sessionID,
		Channel:       channel,
		Status:        domain.ConversationActive,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.convs[c.ID] = c
	return &c, nil
}

// PutConversation stores c as-is.
func (s *Store) PutConversation(_ context.Context, c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) UpdateConversationStatus(_ context.Context, id uuid.UUID, from, to domain.ConversationStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return false, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	if reason != "" {
		c.EscalationReason = reason
	}
	s.convs[id] = c
	return true, nil
}

// AppendMessage adds m and moves the conversation's last_message_at forward.
func (s *Store) AppendMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[m.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, domain.ErrNotFound)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	if m.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = m.CreatedAt
		s.convs[c.ID] = c
	}
	return nil
}

func (s *Store) ConversationMessages(_ context.Context, id uuid.UUID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := append([]domain.Message(nil), s.messages[id]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *Store) IdleConversations(_ context.Context, idleBefore time.Time, limit int) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range s.convs {
		if !c.LastMessageAt.Before(idleBefore) {
			continue
		}
		if c.GapsProcessedThrough != nil && !c.LastMessageAt.After(*c.GapsProcessedThrough) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.Before(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
