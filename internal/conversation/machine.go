package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/hermes"
)

// Store persists conversation status. UpdateConversationStatus only applies
// when the stored status still equals from and reports whether it did.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id uuid.UUID, from, to domain.ConversationStatus, reason string) (bool, error)
}

type Machine struct {
	store  Store
	events hermes.Publisher
	logger *slog.Logger
}

func New(store Store, events hermes.Publisher, logger *slog.Logger) *Machine {
	return &Machine{store: store, events: events, logger: logger}
}

// Transition validates a status change and returns the resulting status.
// Re-applying the current status is allowed; nothing returns to active.
func Transition(from, to domain.ConversationStatus) (domain.ConversationStatus, error) {
	if from == to && from.Valid() {
		return to, nil
	}
	switch {
	case from == domain.ConversationActive && to == domain.ConversationEscalated,
		from == domain.ConversationActive && to == domain.ConversationClosed,
		from == domain.ConversationEscalated && to == domain.ConversationClosed:
		return to, nil
	}
	return from, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}

// Escalate moves an active conversation to escalated. It is a no-op for
// conversations that are already escalated or closed.
func (m *Machine) Escalate(ctx context.Context, id uuid.UUID, reason string, confidence float64) error {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("get conversation %s: %w", id, err)
	}

	switch conv.Status {
	case domain.ConversationEscalated:
		m.logger.Info("conversation already escalated", "conversation_id", id, "reason", reason, "confidence", confidence)
		return nil
	case domain.ConversationClosed:
		m.logger.Debug("escalation ignored for closed conversation", "conversation_id", id)
		return nil
	}

	if _, err := Transition(conv.Status, domain.ConversationEscalated); err != nil {
		return err
	}

	applied, err := m.store.UpdateConversationStatus(ctx, id, conv.Status, domain.ConversationEscalated, reason)
	if err != nil {
		return fmt.Errorf("escalate conversation %s: %w", id, err)
	}
	if !applied {
		// Another writer changed the status first; both outcomes are terminal for escalation.
		m.logger.Info("conversation status changed concurrently, escalation skipped", "conversation_id", id)
		return nil
	}

	m.logger.Info("conversation escalated",
		"tenant_id", conv.TenantID,
		"conversation_id", id,
		"reason", reason,
		"confidence", confidence,
	)
	hermes.Emit(m.events, m.logger, hermes.SubjectConversationEscalated, hermes.ConversationEscalated{
		TenantID:       conv.TenantID.String(),
		ConversationID: id.String(),
		Reason:         reason,
		Confidence:     confidence,
	})
	return nil
}

// Close moves a conversation from any status to closed.
func (m *Machine) Close(ctx context.Context, id uuid.UUID) error {
	for attempt := 0; attempt < 3; attempt++ {
		conv, err := m.store.GetConversation(ctx, id)
		if err != nil {
			return fmt.Errorf("get conversation %s: %w", id, err)
		}
		if conv.Status == domain.ConversationClosed {
			return nil
		}
		if _, err := Transition(conv.Status, domain.ConversationClosed); err != nil {
			return err
		}

		applied, err := m.store.UpdateConversationStatus(ctx, id, conv.Status, domain.ConversationClosed, conv.EscalationReason)
		if err != nil {
			return fmt.Errorf("close conversation %s: %w", id, err)
		}
		if applied {
			m.logger.Info("conversation closed", "tenant_id", conv.TenantID, "conversation_id", id)
			return nil
		}
	}
	return fmt.Errorf("close conversation %s: status kept changing", id)
}
