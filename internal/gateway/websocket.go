// ABOUTME: Real-time visitor channel over WebSocket at /ws?sessionId=
// ABOUTME: Replays history on connect, then reads inbound envelopes one at a time

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/handoff"
	"github.com/2389/handoff-gateway/internal/session"
)

// maxInboundBytes bounds a single visitor frame.
const maxInboundBytes = 16 << 10

// checkOrigin accepts same-host requests and configured origins.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if g.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// handleWebSocket upgrades the request and serves one visitor connection.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Debug("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	ws.SetReadLimit(maxInboundBytes)

	conn := client.NewWebSocketConn(ws, g.config.Client.WriteTimeout)
	unregister := g.clients.Register(sessionID, conn)
	defer unregister()

	g.replay(sessionID)

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		var in client.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.clients.Push(sessionID, client.Error("invalid message"))
			continue
		}
		if in.SessionID != "" && in.SessionID != sessionID {
			g.clients.Push(sessionID, client.Error("sessionId does not match this connection"))
			continue
		}

		switch in.Type {
		case client.InboundUserMessage:
			_, err = g.orchestrator.HandleVisitorMessage(ctx, sessionID, in.Text, in.UserInfo)
		case client.InboundRequestHuman:
			_, err = g.orchestrator.RequestHuman(ctx, sessionID, in.UserInfo)
		case client.InboundEndSession:
			if err := g.orchestrator.EndSession(ctx, sessionID); err != nil && !errors.Is(err, handoff.ErrSessionNotFound) {
				g.logger.Warn("end session failed", "session_id", sessionID, "error", err)
			}
			return
		default:
			g.clients.Push(sessionID, client.Error("unknown message type"))
			continue
		}
		g.reportInboundError(sessionID, err)
	}
}

// replay sends the transcript and current state to a (re)connecting visitor.
func (g *Gateway) replay(sessionID string) {
	sess, err := g.sessions.Find(sessionID)
	if err != nil {
		return
	}
	if len(sess.History) > 0 {
		g.clients.Push(sessionID, client.History(sess.History))
	}
	switch sess.Mode {
	case session.ModePendingHuman:
		g.clients.Push(sessionID, client.Status(handoff.MsgWaiting))
	case session.ModeHuman:
		g.clients.Push(sessionID, client.HumanConnected(handoff.MsgHumanConnected))
	}
}

// reportInboundError pushes an error event unless the orchestrator already
// told the visitor.
func (g *Gateway) reportInboundError(sessionID string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, handoff.ErrChannelUnavailable) || errors.Is(err, handoff.ErrDeliveryFailed) {
		return
	}
	g.logger.Debug("visitor message refused", "session_id", sessionID, "error", err)
	g.clients.Push(sessionID, client.Error(messageFor(err)))
}
