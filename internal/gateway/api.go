// ABOUTME: Visitor HTTP API: chat, connect-human and send-to-operator
// ABOUTME: Thin JSON adapters over the orchestrator; errors map to HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/rs/cors"

	"github.com/2389/handoff-gateway/internal/handoff"
)

// maxBodyBytes bounds visitor request bodies.
const maxBodyBytes = 64 << 10

// ChatRequest is the JSON body for POST /chat.
type ChatRequest struct {
	SessionID string            `json:"sessionId"`
	Message   string            `json:"message"`
	UserInfo  map[string]string `json:"userInfo,omitempty"`
}

// ChatResponse is the JSON response for POST /chat.
type ChatResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RequiresHuman bool   `json:"requiresHuman"`
	Mode          string `json:"mode"`
}

// ConnectHumanRequest is the JSON body for POST /connect-human.
type ConnectHumanRequest struct {
	SessionID string            `json:"sessionId"`
	UserInfo  map[string]string `json:"userInfo,omitempty"`
}

// SendToOperatorRequest is the JSON body for POST /send-to-operator.
type SendToOperatorRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// StatusResponse is the JSON response for simple visitor operations.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (g *Gateway) registerVisitorRoutes(mux *http.ServeMux) {
	// Browser widgets on client.allowed_origins call these cross-origin.
	// cors treats an empty origin list as "allow all", so it is only
	// installed when origins are configured.
	withCORS := func(h http.Handler) http.Handler { return h }
	if origins := g.config.Client.AllowedOrigins; len(origins) > 0 {
		withCORS = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler
	}
	mux.Handle("/chat", withCORS(http.HandlerFunc(g.handleChat)))
	mux.Handle("/connect-human", withCORS(http.HandlerFunc(g.handleConnectHuman)))
	mux.Handle("/send-to-operator", withCORS(http.HandlerFunc(g.handleSendToOperator)))
	mux.HandleFunc("/ws", g.handleWebSocket)
}

// handleChat handles POST /chat.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ChatRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sessionId and message are required")
		return
	}

	out, err := g.orchestrator.HandleVisitorMessage(r.Context(), req.SessionID, req.Message, req.UserInfo)
	if err != nil {
		g.sendHandoffError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, ChatResponse{
		Success:       true,
		Message:       out.Text,
		RequiresHuman: out.NeedsHuman,
		Mode:          string(out.Mode),
	})
}

// handleConnectHuman handles POST /connect-human.
func (g *Gateway) handleConnectHuman(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ConnectHumanRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	out, err := g.orchestrator.RequestHuman(r.Context(), req.SessionID, req.UserInfo)
	if err != nil {
		g.sendHandoffError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: out.Text})
}

// handleSendToOperator handles POST /send-to-operator.
func (g *Gateway) handleSendToOperator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SendToOperatorRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sessionId and message are required")
		return
	}

	if _, err := g.orchestrator.SendToOperator(r.Context(), req.SessionID, req.Message); err != nil {
		g.sendHandoffError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps an orchestrator error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, handoff.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, handoff.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, handoff.ErrInvalidTransition), errors.Is(err, handoff.ErrAlreadyBound):
		return http.StatusConflict
	case errors.Is(err, handoff.ErrChannelUnavailable),
		errors.Is(err, handoff.ErrDeliveryFailed),
		errors.Is(err, handoff.ErrUpstream):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the visitor-safe text for an orchestrator error.
func messageFor(err error) string {
	switch {
	case errors.Is(err, handoff.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, handoff.ErrInvalidTransition):
		return "no operator is assigned to this session"
	case errors.Is(err, handoff.ErrChannelUnavailable):
		return handoff.MsgUnavailable
	case errors.Is(err, handoff.ErrDeliveryFailed):
		return handoff.MsgDeliveryFailed
	case errors.Is(err, handoff.ErrInvalidInput):
		return "invalid request"
	default:
		return "internal error"
	}
}

func (g *Gateway) sendHandoffError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		g.logger.Warn("request failed", "error", err)
	}
	g.sendJSONError(w, status, messageFor(err))
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// originAllowed reports whether origin may open the visitor WebSocket.
func (g *Gateway) originAllowed(origin string) bool {
	allowed := g.config.Client.AllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
