// Package assistant runs one chat turn: retrieve, assemble, complete, score,
// apply the answer policy and record both sides of the exchange.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MikeSquared-Agency/sage/internal/confidence"
	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/policy"
	"github.com/MikeSquared-Agency/sage/internal/qacache"
	"github.com/MikeSquared-Agency/sage/internal/retrieval"
)

const (
	DefaultChannel = "web"

	ReasonLowConfidence = "low_confidence"
	ReasonNoAnswer      = "no_answer"
)

var tracer = otel.Tracer("github.com/MikeSquared-Agency/sage/internal/assistant")

// Completer generates an answer from a system prompt, the question and the
// retrieved context.
type Completer interface {
	Complete(ctx context.Context, system, question, retrieved string) (string, error)
}

// Store persists conversations and their messages.
type Store interface {
	GetOrCreateConversation(ctx context.Context, tenantID uuid.UUID, sessionID, channel string) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, m *domain.Message) error
}

type Retriever interface {
	Retrieve(ctx context.Context, tenantID uuid.UUID, query string, opts retrieval.Options) []domain.RetrievedChunk
}

type Escalator interface {
	Escalate(ctx context.Context, conversationID uuid.UUID, reason string, confidence float64) error
}

// Cache looks up previously confident answers.
type Cache interface {
	Get(ctx context.Context, tenantID uuid.UUID, category, question string) (*qacache.Entry, bool, error)
}

// Turn is one user message.
type Turn struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	Category  string    `json:"category,omitempty"`
}

// Reply is what the caller shows the visitor plus the scoring detail.
type Reply struct {
	ConversationID uuid.UUID            `json:"conversation_id"`
	MessageID      uuid.UUID            `json:"message_id"`
	Action         policy.Action        `json:"action"`
	Answer         string               `json:"answer"`
	Confidence     float64              `json:"confidence"`
	Factors        confidence.Breakdown `json:"factors"`
	Escalated      bool                 `json:"escalated"`
	Cached         bool                 `json:"cached,omitempty"`
	Sources        []domain.SourceRef   `json:"sources"`
}

type Assistant struct {
	store     Store
	retriever Retriever
	llm       Completer
	machine   Escalator
	policy    policy.Policy
	opts      retrieval.Options
	cache     Cache
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithCache answers repeated questions from the Q&A cache.
func WithCache(c Cache) Option { return func(a *Assistant) { a.cache = c } }

// WithRetrievalOptions overrides top-k and the similarity floor.
func WithRetrievalOptions(o retrieval.Options) Option {
	return func(a *Assistant) { a.opts = o }
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option { return func(a *Assistant) { a.now = now } }

func New(store Store, retriever Retriever, llm Completer, machine Escalator, p policy.Policy, logger *slog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		store:     store,
		retriever: retriever,
		llm:       llm,
		machine:   machine,
		policy:    p,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ask answers one turn. Retrieval and completion failures degrade the answer
// rather than failing the turn; only persistence errors are returned.
func (a *Assistant) Ask(ctx context.Context, turn Turn) (Reply, error) {
	question := strings.TrimSpace(turn.Message)
	if turn.TenantID == uuid.Nil || strings.TrimSpace(turn.SessionID) == "" || question == "" {
		return Reply{}, fmt.Errorf("%w: tenant, session and message are required", domain.ErrInvalidInput)
	}
	if turn.Channel == "" {
		turn.Channel = DefaultChannel
	}

	ctx, span := tracer.Start(ctx, "assistant.ask")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", turn.TenantID.String()))

	conv, err := a.store.GetOrCreateConversation(ctx, turn.TenantID, turn.SessionID, turn.Channel)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("get conversation: %w", err)
	}

	userMsg := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        question,
		Category:       turn.Category,
		CreatedAt:      a.now(),
	}
	if err := a.store.AppendMessage(ctx, userMsg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("append user message: %w", err)
	}

	reply := Reply{ConversationID: conv.ID, Sources: []domain.SourceRef{}}
	var answer string

	if entry, ok := a.lookupCache(ctx, turn, question); ok {
		answer = entry.Answer
		reply.Confidence = entry.Confidence
		reply.Cached = true
	} else {
		chunks := a.retriever.Retrieve(ctx, turn.TenantID, question, a.opts)
		answer = a.complete(ctx, conv.ID, question, retrieval.BuildContext(chunks))

		reply.Factors = confidence.Factors(chunks, answer)
		reply.Confidence = confidence.Score(chunks, answer)
		for _, c := range chunks {
			reply.Sources = append(reply.Sources, domain.SourceRef{
				SourceID:   c.SourceID,
				ChunkID:    c.ChunkID,
				Similarity: c.Similarity,
			})
		}
	}

	decision := a.policy.Decide(reply.Confidence)
	if answer == "" && decision.Action == policy.ActionAnswer {
		// Nothing to show despite good context; hand over to a human.
		decision = policy.Decision{Action: policy.ActionRefuse, Escalate: true, Message: policy.RefusalMessage}
	}
	reply.Action = decision.Action
	reply.Escalated = decision.Escalate
	reply.Answer = decision.Render(answer)
	span.SetAttributes(
		attribute.Float64("confidence", reply.Confidence),
		attribute.String("action", string(reply.Action)),
		attribute.Bool("cached", reply.Cached),
	)

	conf := reply.Confidence
	botMsg := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply.Answer,
		Confidence:     &conf,
		Escalated:      reply.Escalated,
		Category:       turn.Category,
		SourcesUsed:    reply.Sources,
		CreatedAt:      a.now(),
	}
	if !botMsg.CreatedAt.After(userMsg.CreatedAt) {
		botMsg.CreatedAt = userMsg.CreatedAt.Add(time.Millisecond)
	}
	if err := a.store.AppendMessage(ctx, botMsg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("append assistant message: %w", err)
	}
	reply.MessageID = botMsg.ID

	if reply.Escalated {
		reason := ReasonLowConfidence
		if reply.Action == policy.ActionRefuse {
			reason = ReasonNoAnswer
		}
		if err := a.machine.Escalate(ctx, conv.ID, reason, reply.Confidence); err != nil {
			// The answer is already recorded; a missed escalation shows up in the gap sweep.
			a.logger.Error("escalation failed", "conversation_id", conv.ID, "error", err)
		}
	}

	a.logger.Info("turn answered",
		"tenant_id", turn.TenantID,
		"conversation_id", conv.ID,
		"action", reply.Action,
		"confidence", reply.Confidence,
		"sources", len(reply.Sources),
		"cached", reply.Cached,
	)
	return reply, nil
}

func (a *Assistant) lookupCache(ctx context.Context, turn Turn, question string) (*qacache.Entry, bool) {
	if a.cache == nil {
		return nil, false
	}
	entry, ok, err := a.cache.Get(ctx, turn.TenantID, turn.Category, question)
	if err != nil {
		a.logger.Warn("qa cache lookup failed", "tenant_id", turn.TenantID, "error", err)
		return nil, false
	}
	return entry, ok
}

func (a *Assistant) complete(ctx context.Context, convID uuid.UUID, question, retrieved string) string {
	answer, err := a.llm.Complete(ctx, systemPrompt, question, retrieved)
	if err != nil {
		a.logger.Warn("completion failed, answering without text", "conversation_id", convID, "error", err)
		return ""
	}
	return strings.TrimSpace(answer)
}
