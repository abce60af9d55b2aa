// ABOUTME: Tests for the visitor WebSocket channel against an httptest server
// ABOUTME: Exercises history replay, inbound envelopes, operator relay and origin checks

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/handoff"
	"github.com/2389/handoff-gateway/internal/operator"
)

func dialVisitor(t *testing.T, srv *httptest.Server, sessionID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sessionId=" + sessionID
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) client.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev client.Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func newTestServer(t *testing.T, tg *testGateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(tg.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketChat(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)
	ws := dialVisitor(t, srv, "s1", nil)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundUserMessage, SessionID: "s1", Text: "hello"}))
	ev := readEvent(t, ws)
	assert.Equal(t, client.EventAIResponse, ev.Type)
	assert.Equal(t, "Hi there, how can I help?", ev.Text)
	require.NotNil(t, ev.NeedsHuman)
	assert.False(t, *ev.NeedsHuman)
}

func TestWebSocketRequestHumanAndOperatorRelay(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)
	ws := dialVisitor(t, srv, "s1", nil)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundRequestHuman}))
	ev := readEvent(t, ws)
	assert.Equal(t, client.EventStatus, ev.Type)
	assert.Equal(t, handoff.MsgWaiting, ev.Message)

	require.NoError(t, tg.orchestrator.HandleOperatorAction(t.Context(), operator.Action{
		Kind: operator.ActionAccept, Operator: "@op:example.org", SessionID: "s1",
	}))
	assert.Equal(t, client.EventHumanConnected, readEvent(t, ws).Type)

	require.NoError(t, tg.orchestrator.HandleOperatorAction(t.Context(), operator.Action{
		Kind: operator.ActionMessage, Operator: "@op:example.org", Text: "Hello, I'm Sam.",
	}))
	ev = readEvent(t, ws)
	assert.Equal(t, client.EventOperatorMessage, ev.Type)
	assert.Equal(t, "Hello, I'm Sam.", ev.Text)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundUserMessage, Text: "Hi Sam"}))
	ev = readEvent(t, ws)
	assert.Equal(t, client.EventStatus, ev.Type)
	assert.Equal(t, handoff.MsgDelivered, ev.Message)
	assert.Eventually(t, func() bool {
		sent := tg.ops.SentTo("@op:example.org")
		return len(sent) > 0 && sent[len(sent)-1] == "[S1] Hi Sam"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketReplaysHistory(t *testing.T) {
	tg := newTestGateway(t)
	tg.bind(t, "s1", "@op:example.org")
	require.NoError(t, tg.orchestrator.HandleOperatorAction(t.Context(), operator.Action{
		Kind: operator.ActionMessage, Operator: "@op:example.org", Text: "Are you still there?",
	}))

	srv := newTestServer(t, tg)
	ws := dialVisitor(t, srv, "s1", nil)

	ev := readEvent(t, ws)
	require.Equal(t, client.EventHistory, ev.Type)
	require.NotEmpty(t, ev.Messages)
	assert.Equal(t, "Are you still there?", ev.Messages[len(ev.Messages)-1].Content)
	assert.Equal(t, client.EventHumanConnected, readEvent(t, ws).Type)
}

func TestWebSocketRejectsBadEnvelopes(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)
	ws := dialVisitor(t, srv, "s1", nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{nope")))
	ev := readEvent(t, ws)
	assert.Equal(t, client.EventError, ev.Type)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: "dance"}))
	ev = readEvent(t, ws)
	assert.Equal(t, "unknown message type", ev.Message)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundUserMessage, SessionID: "other", Text: "hi"}))
	ev = readEvent(t, ws)
	assert.Contains(t, ev.Message, "does not match")

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundUserMessage, Text: "  "}))
	ev = readEvent(t, ws)
	assert.Equal(t, client.EventError, ev.Type)
}

func TestWebSocketEndSession(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)
	ws := dialVisitor(t, srv, "s1", nil)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundUserMessage, Text: "hello"}))
	readEvent(t, ws)

	require.NoError(t, ws.WriteJSON(client.Inbound{Type: client.InboundEndSession}))
	assert.Eventually(t, func() bool {
		_, err := tg.sessions.Find("s1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresSessionID(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketOriginCheck(t *testing.T) {
	tg := newTestGateway(t)
	srv := newTestServer(t, tg)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sessionId=s1"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://shop.example.com"}})
	require.NoError(t, err)
	_ = ws.Close()
}
