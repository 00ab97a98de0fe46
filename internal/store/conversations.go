package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

const conversationColumns = `id, tenant_id, session_id, channel, status, visitor_name, visitor_email,
	escalation_reason, last_message_at, gaps_processed_through, created_at`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.SessionID, &c.Channel, &status, &c.VisitorName, &c.VisitorEmail,
		&c.EscalationReason, &c.LastMessageAt, &c.GapsProcessedThrough, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ConversationStatus(status)
	return &c, nil
}

// GetOrCreateConversation returns the session's open conversation, starting
// a new active one when none exists or the last one was closed. The partial
// unique index on (tenant_id, session_id) keeps concurrent first turns from
// opening two conversations.
func (s *Store) GetOrCreateConversation(ctx context.Context, tenantID uuid.UUID, sessionID, channel string) (*domain.Conversation, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, session_id, channel, status, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, 'active', now(), now())
		ON CONFLICT (tenant_id, session_id) WHERE status <> 'closed' DO NOTHING`,
		uuid.New(), tenantID, sessionID, channel,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	c, err := scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND session_id = $2 AND status <> 'closed'`,
		tenantID, sessionID,
	))
	if err != nil {
		return nil, notFound(err, "conversation for session "+sessionID)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, notFound(err, "conversation "+id.String())
	}
	return c, nil
}

// UpdateConversationStatus moves the conversation from one status to another
// only if it is still in from. It reports whether the row changed.
func (s *Store) UpdateConversationStatus(ctx context.Context, id uuid.UUID, from, to domain.ConversationStatus, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET status = $3, escalation_reason = COALESCE(NULLIF($4, ''), escalation_reason)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), reason,
	)
	if err != nil {
		return false, fmt.Errorf("update conversation status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// AppendMessage inserts m and advances the conversation's last_message_at.
func (s *Store) AppendMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	sources := m.SourcesUsed
	if sources == nil {
		sources = []domain.SourceRef{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1`,
		m.ConversationID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, domain.ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, confidence, escalated, category, sources_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.Confidence, m.Escalated, m.Category, sources, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ConversationMessages returns a conversation's messages oldest first.
func (s *Store) ConversationMessages(ctx context.Context, id uuid.UUID) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, confidence, escalated, category, sources_used, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		var m domain.Message
		var role string
		err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Confidence, &m.Escalated, &m.Category, &m.SourcesUsed, &m.CreatedAt)
		m.Role = domain.Role(role)
		return m, err
	})
}

// IdleConversations lists conversations quiet since idleBefore that have
// messages newer than their gap watermark, oldest activity first.
func (s *Store) IdleConversations(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE last_message_at < $1
		  AND (gaps_processed_through IS NULL OR last_message_at > gaps_processed_through)
		ORDER BY last_message_at
		LIMIT $2`,
		idleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query idle conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
