package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/assistant"
	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
	"github.com/MikeSquared-Agency/sage/internal/ingest"
)

type Asker interface {
	Ask(ctx context.Context, turn assistant.Turn) (assistant.Reply, error)
}

type ConversationCloser interface {
	Close(ctx context.Context, conversationID uuid.UUID) error
}

type SourceGetter interface {
	GetSource(ctx context.Context, id uuid.UUID) (*domain.Source, error)
}

type GapAdmin interface {
	List(ctx context.Context, tenantID uuid.UUID, status domain.GapStatus, limit int) ([]domain.KnowledgeGap, error)
	Resolve(ctx context.Context, id uuid.UUID, by, answer string, sourceID *uuid.UUID) (*domain.KnowledgeGap, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.GapStatus) (*domain.KnowledgeGap, error)
}

type Consolidator interface {
	Consolidate(ctx context.Context, tenantID uuid.UUID, threshold float64, execute bool) (*gaps.ConsolidateResult, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Deps are the services behind the HTTP surface. Nil optional fields
// disable their routes' extra behaviour.
type Deps struct {
	Assistant     Asker
	Conversations ConversationCloser
	Trigger       ingest.Trigger
	Sources       SourceGetter
	Gaps          GapAdmin
	Sweeper       gaps.Sweeper
	Consolidator  Consolidator
	Checks        map[string]Check
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
	http   *http.Server
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)

		r.Post("/sources/{id}/ingest", s.ingestSource)
		r.Post("/tenants/{tenant}/chat", s.chat)
		r.Post("/conversations/{id}/close", s.closeConversation)

		r.Get("/tenants/{tenant}/gaps", s.listGaps)
		r.Post("/tenants/{tenant}/gaps/consolidate", s.consolidateGaps)
		r.Post("/gaps/sweep", s.sweepGaps)
		r.Post("/gaps/{id}/resolve", s.resolveGap)
		r.Post("/gaps/{id}/status", s.setGapStatus)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
