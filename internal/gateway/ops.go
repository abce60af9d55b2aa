// ABOUTME: Operations API for support staff: list, inspect and end sessions, read transcripts
// ABOUTME: Requires a bearer JWT; ending a session additionally requires the admin role

package gateway

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/ledger"
	"github.com/2389/handoff-gateway/internal/operator"
	"github.com/2389/handoff-gateway/internal/session"
)

// SessionSummary is one row of GET /api/sessions.
type SessionSummary struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Mode           string `json:"mode"`
	Operator       string `json:"operator,omitempty"`
	Messages       int    `json:"messages"`
	Connected      bool   `json:"connected"`
	CreatedAt      string `json:"createdAt"`
	LastActivityAt string `json:"lastActivityAt"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// TranscriptResponse is the JSON response for GET /api/sessions/{id}/transcript.
type TranscriptResponse struct {
	SessionID string          `json:"sessionId"`
	Events    []*ledger.Event `json:"events"`
}

// BindingsResponse is the JSON response for GET /api/bindings.
type BindingsResponse struct {
	Bindings map[string]string `json:"bindings"` // operator -> session id
}

func (g *Gateway) registerOpsRoutes(mux *http.ServeMux) {
	if g.verifier == nil {
		g.logger.Warn("operations API disabled - no auth.jwt_secret configured")
		return
	}
	authMiddleware := auth.HTTPAuthMiddleware(g.verifier)

	mux.Handle("GET /api/sessions", authMiddleware(http.HandlerFunc(g.handleListSessions)))
	mux.Handle("GET /api/sessions/{id}", authMiddleware(http.HandlerFunc(g.handleGetSession)))
	mux.Handle("GET /api/sessions/{id}/transcript", authMiddleware(http.HandlerFunc(g.handleTranscript)))
	mux.Handle("DELETE /api/sessions/{id}", authMiddleware(auth.RequireAdminHTTP(http.HandlerFunc(g.handleEndSession))))
	mux.Handle("GET /api/bindings", authMiddleware(http.HandlerFunc(g.handleBindings)))
	g.logger.Info("operations API enabled")
}

func (g *Gateway) summarize(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:             s.ID,
		Code:           operator.ShortCode(s.ID),
		Mode:           string(s.Mode),
		Operator:       s.Operator,
		Messages:       len(s.History),
		Connected:      g.clients.Connected(s.ID),
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: s.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

// handleListSessions handles GET /api/sessions. Supports ?mode= filtering.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	mode := strings.ToUpper(r.URL.Query().Get("mode"))

	sessions := g.sessions.List()
	slices.SortFunc(sessions, func(a, b *session.Session) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})

	resp := ListSessionsResponse{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		if mode != "" && string(s.Mode) != mode {
			continue
		}
		resp.Sessions = append(resp.Sessions, g.summarize(s))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetSession handles GET /api/sessions/{id}.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.sessions.Find(r.PathValue("id"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	g.writeJSON(w, http.StatusOK, sess)
}

// handleTranscript handles GET /api/sessions/{id}/transcript. The ledger
// outlives eviction, so evicted sessions still have transcripts.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if g.transcripts == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	events, err := g.transcripts.ListBySession(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("reading transcript failed", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	if events == nil {
		events = []*ledger.Event{}
	}
	g.writeJSON(w, http.StatusOK, TranscriptResponse{SessionID: id, Events: events})
}

// handleEndSession handles DELETE /api/sessions/{id}.
func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.orchestrator.EndSession(r.Context(), id); err != nil {
		g.sendHandoffError(w, err)
		return
	}
	caller := auth.FromContext(r.Context())
	g.logger.Info("session ended via operations API", "session_id", id, "by", caller.Subject)
	g.writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// handleBindings handles GET /api/bindings.
func (g *Gateway) handleBindings(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, BindingsResponse{Bindings: g.sessions.Bindings()})
}
