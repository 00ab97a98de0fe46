package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a chat session.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationEscalated ConversationStatus = "escalated"
	ConversationClosed    ConversationStatus = "closed"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationEscalated, ConversationClosed:
		return true
	}
	return false
}

// Conversation is one chat session with a visitor. GapsProcessedThrough is
// the newest message time already mined by the gap aggregator.
type Conversation struct {
	ID                   uuid.UUID          `json:"id"`
	TenantID             uuid.UUID          `json:"tenant_id"`
	SessionID            string             `json:"session_id"`
	Channel              string             `json:"channel"`
	Status               ConversationStatus `json:"status"`
	VisitorName          string             `json:"visitor_name,omitempty"`
	VisitorEmail         string             `json:"visitor_email,omitempty"`
	EscalationReason     string             `json:"escalation_reason,omitempty"`
	LastMessageAt        time.Time          `json:"last_message_at"`
	GapsProcessedThrough *time.Time         `json:"gaps_processed_through,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceRef records which chunk contributed to an assistant answer.
type SourceRef struct {
	SourceID   uuid.UUID `json:"source_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	Similarity float64   `json:"similarity"`
}

// Message is an immutable turn within a conversation. Confidence is only set
// on assistant turns produced by the answering pipeline.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Confidence     *float64    `json:"confidence,omitempty"`
	Escalated      bool        `json:"escalated"`
	Category       string      `json:"category,omitempty"`
	SourcesUsed    []SourceRef `json:"sources_used,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
