// ABOUTME: Matrix implementation of the operator channel using mautrix.
// ABOUTME: Posts claim notices to the operator room and turns replies and reactions into Actions.

package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/handoff-gateway/internal/dedupe"
)

// MatrixConfig configures the Matrix operator channel.
type MatrixConfig struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	RoomID        string   // where claim notifications are posted
	AllowedUsers  []string // empty means anyone in an allowed room is an operator
	AllowedRooms  []string // RoomID is always allowed
	CommandPrefix string
	ClaimTTL      time.Duration
}

// matrixSender is the part of *mautrix.Client used for outbound messages.
type matrixSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Matrix is an operator Channel backed by a Matrix room.
type Matrix struct {
	cfg    MatrixConfig
	client *mautrix.Client
	send   matrixSender
	logger *slog.Logger

	notices *dedupe.Cache[string]   // notification event id -> session id
	latest  *dedupe.Cache[string]   // session id -> its open notification event id
	codes   *dedupe.Cache[string]   // short code -> session id
	seen    *dedupe.Cache[struct{}] // processed event ids

	mu         sync.RWMutex
	handler    ActionHandler
	replyRooms map[string]id.RoomID // operator -> room they last acted from

	connected atomic.Bool
	startedAt atomic.Int64 // unix millis; earlier events are backlog
}

// Compile-time check.
var _ Channel = (*Matrix)(nil)

// NewMatrix creates the Matrix channel. Call Run to start receiving.
func NewMatrix(cfg MatrixConfig, logger *slog.Logger) (*Matrix, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	m := newMatrix(cfg, client, logger)
	m.client = client
	return m, nil
}

func newMatrix(cfg MatrixConfig, send matrixSender, logger *slog.Logger) *Matrix {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Hour
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return &Matrix{
		cfg:        cfg,
		send:       send,
		logger:     logger.With("component", "operator.matrix"),
		notices:    dedupe.New[string](cfg.ClaimTTL, 10000),
		latest:     dedupe.New[string](cfg.ClaimTTL, 10000),
		codes:      dedupe.New[string](cfg.ClaimTTL, 10000),
		seen:       dedupe.New[struct{}](10*time.Minute, 10000),
		replyRooms: make(map[string]id.RoomID),
	}
}

// OnInboundOperatorAction registers the action handler.
func (m *Matrix) OnInboundOperatorAction(h ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Connected reports whether the sync loop is running.
func (m *Matrix) Connected() bool {
	return m.connected.Load()
}

// Run syncs with the homeserver until ctx is cancelled. Events are handled on
// the sync goroutine, one at a time, so operator messages keep their order.
func (m *Matrix) Run(ctx context.Context) error {
	if m.client == nil {
		return errors.New("matrix client not configured")
	}
	defer m.close()

	m.logger.Info("starting matrix operator channel",
		"homeserver", m.cfg.Homeserver,
		"user_id", m.cfg.UserID,
		"room", m.cfg.RoomID,
	)

	if _, err := m.client.Whoami(ctx); err != nil {
		return fmt.Errorf("verifying matrix credentials: %w", err)
	}

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, m.handleMessageEvent)
	syncer.OnEventType(event.EventReaction, m.handleReactionEvent)

	m.startedAt.Store(time.Now().UnixMilli())
	m.connected.Store(true)
	defer m.connected.Store(false)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- m.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("shutting down matrix operator channel")
		m.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (m *Matrix) close() {
	m.notices.Close()
	m.latest.Close()
	m.codes.Close()
	m.seen.Close()
}

// NotifyClaimable posts the claim notice to the operator room.
func (m *Matrix) NotifyClaimable(ctx context.Context, c Claimable) (Handle, error) {
	markdown := NotificationMarkdown(c, m.cfg.CommandPrefix)
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    markdown,
	}
	if html, err := RenderHTML(markdown); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	} else {
		m.logger.Warn("sending notice as plain text", "error", err)
	}

	resp, err := m.send.SendMessageEvent(ctx, id.RoomID(m.cfg.RoomID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("%w: posting claim notice: %v", ErrChannelUnavailable, err)
	}

	handle := Handle(resp.EventID.String())
	// Only the newest notice of a session can be accepted.
	if prev, ok := m.latest.Get(c.SessionID); ok {
		m.notices.Delete(prev)
	}
	m.notices.Put(string(handle), c.SessionID)
	m.latest.Put(c.SessionID, string(handle))
	if c.Code != "" {
		m.codes.Put(c.Code, c.SessionID)
	}

	m.logger.Info("claim notice posted", "session_id", c.SessionID, "code", c.Code, "event_id", handle, "open_notices", m.notices.Len())
	return handle, nil
}

// SendToOperator messages an operator in the room they last used, mentioning them.
func (m *Matrix) SendToOperator(ctx context.Context, operator, text string) error {
	room := m.roomFor(operator)
	content := &event.MessageEventContent{
		MsgType:  event.MsgText,
		Body:     text,
		Mentions: &event.Mentions{UserIDs: []id.UserID{id.UserID(operator)}},
	}
	if _, err := m.send.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("%w: %s in %s: %v", ErrDeliveryFailed, operator, room, err)
	}
	return nil
}

func (m *Matrix) roomFor(operator string) id.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if room, ok := m.replyRooms[operator]; ok {
		return room
	}
	return id.RoomID(m.cfg.RoomID)
}

func (m *Matrix) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if !m.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	action := m.interpretText(evt.Sender.String(), body)
	m.dispatch(ctx, evt, action)
}

func (m *Matrix) handleReactionEvent(ctx context.Context, evt *event.Event) {
	if !m.accept(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return
	}
	action, ok := m.interpretReaction(evt.Sender.String(), content.RelatesTo.EventID.String())
	if !ok {
		return
	}
	m.dispatch(ctx, evt, action)
}

// accept filters out our own, old, duplicate and unauthorised events.
func (m *Matrix) accept(evt *event.Event) bool {
	if evt.Sender == id.UserID(m.cfg.UserID) {
		return false
	}
	if evt.Timestamp < m.startedAt.Load() {
		return false
	}
	if !m.isRoomAllowed(evt.RoomID.String()) {
		m.logger.Debug("ignoring event from non-allowed room", "room", evt.RoomID)
		return false
	}
	if !m.isOperator(evt.Sender.String()) {
		m.logger.Debug("ignoring event from non-operator", "sender", evt.Sender)
		return false
	}
	return !m.seen.Seen(evt.ID.String())
}

func (m *Matrix) dispatch(ctx context.Context, evt *event.Event, action Action) {
	m.mu.Lock()
	m.replyRooms[action.Operator] = evt.RoomID
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		m.logger.Warn("operator action dropped, no handler", "kind", action.Kind)
		return
	}
	m.logger.Debug("operator action", "kind", action.Kind, "operator", action.Operator, "session_id", action.SessionID)
	h(ctx, action)
}

// interpretText maps a text message to an Action.
func (m *Matrix) interpretText(sender, body string) Action {
	if cmd, ok := ParseCommand(m.cfg.CommandPrefix, body); ok {
		switch cmd.Name {
		case "accept", "claim":
			code := NormalizeCode(cmd.Arg)
			sessionID, found := m.codes.Get(code)
			if !found {
				// Full session ids are accepted too.
				sessionID = strings.TrimSpace(cmd.Arg)
			}
			return Action{Kind: ActionClaim, Operator: sender, Code: code, SessionID: sessionID}
		case "end", "done", "close":
			return Action{Kind: ActionEnd, Operator: sender}
		default:
			return Action{Kind: ActionHelp, Operator: sender}
		}
	}

	action := Action{Kind: ActionMessage, Operator: sender, Text: body}
	if code := NormalizeCode(body); code != "" {
		if sessionID, ok := m.codes.Get(code); ok {
			action.Code = code
			action.SessionID = sessionID
		}
	}
	return action
}

// interpretReaction maps a reaction to an accept when it targets a live notice.
func (m *Matrix) interpretReaction(sender, target string) (Action, bool) {
	sessionID, ok := m.notices.Get(target)
	if !ok {
		return Action{}, false
	}
	return Action{Kind: ActionAccept, Operator: sender, SessionID: sessionID, Handle: Handle(target)}, true
}

func (m *Matrix) isRoomAllowed(roomID string) bool {
	return roomID == m.cfg.RoomID || slices.Contains(m.cfg.AllowedRooms, roomID)
}

func (m *Matrix) isOperator(userID string) bool {
	return len(m.cfg.AllowedUsers) == 0 || slices.Contains(m.cfg.AllowedUsers, userID)
}
