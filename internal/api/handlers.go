package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sage/internal/assistant"
	"github.com/MikeSquared-Agency/sage/internal/domain"
)

const defaultConsolidateThreshold = 0.92

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	Category  string `json:"category,omitempty"`
}

type ResolveRequest struct {
	ResolvedBy string     `json:"resolved_by"`
	Answer     string     `json:"answer"`
	SourceID   *uuid.UUID `json:"source_id,omitempty"`
}

type StatusRequest struct {
	Status domain.GapStatus `json:"status"`
}

type ConsolidateRequest struct {
	Threshold float64 `json:"threshold"`
	Execute   bool    `json:"execute"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Checks))
	code, overall := http.StatusOK, "ok"
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			code, overall = http.StatusServiceUnavailable, "degraded"
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"service": "sage",
		"status":  overall,
		"checks":  checks,
	})
}

// ingestSource handles POST /api/v1/sources/{id}/ingest
func (s *Server) ingestSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if s.deps.Sources != nil {
		if _, err := s.deps.Sources.GetSource(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if err := s.deps.Trigger.Enqueue(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"source_id": id.String(), "status": "queued"})
}

// chat handles POST /api/v1/tenants/{tenant}/chat
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant")
	if !ok {
		return
	}
	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}

	reply, err := s.deps.Assistant.Ask(r.Context(), assistant.Turn{
		TenantID:  tenantID,
		SessionID: req.SessionID,
		Channel:   req.Channel,
		Message:   req.Message,
		Category:  req.Category,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// closeConversation handles POST /api/v1/conversations/{id}/close
func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Conversations.Close(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id.String(), "status": string(domain.ConversationClosed)})
}

// listGaps handles GET /api/v1/tenants/{tenant}/gaps?status=&limit=
func (s *Server) listGaps(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathUUID(w, r, "tenant")
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	list, err := s.deps.Gaps.List(r.Context(), tenantID, domain.GapStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []domain.KnowledgeGap{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gaps": list, "count": len(list)})
}

// resolveGap handles POST /api/v1/gaps/{id}/resolve
func (s *Server) resolveGap(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	gap, err := s.deps.Gaps.Resolve(r.Context(), id, req.ResolvedBy, req.Answer, req.SourceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gap)
}

// setGapStatus handles POST /api/v1/gaps/{id}/status
func (s *Server) setGapStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	gap, err := s.deps.Gaps.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gap)
}

// sweepGaps handles POST /api/v1/gaps/sweep
func (s *Server) sweepGaps(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// consolidateGaps handles POST /api/v1/tenants/{tenant}/gaps/consolidate
func (s *Server) consolidateGaps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Consolidator == nil {
		writeError(w, http.StatusNotImplemented, "gap consolidation is not configured")
		return
	}
	tenantID, ok := pathUUID(w, r, "tenant")
	if !ok {
		return
	}
	req := ConsolidateRequest{Threshold: defaultConsolidateThreshold}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.Threshold <= 0 || req.Threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be in (0, 1]")
		return
	}

	result, err := s.deps.Consolidator.Consolidate(r.Context(), tenantID, req.Threshold, req.Execute)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps sentinel errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSweepInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrLockNotAcquired):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
