// ABOUTME: Orchestrator owns the AI / PENDING_HUMAN / HUMAN state machine for every session
// ABOUTME: Routes visitor and operator messages and commits mode changes only after their side effects succeed

package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/assistant"
	"github.com/2389/handoff-gateway/internal/client"
	"github.com/2389/handoff-gateway/internal/ledger"
	"github.com/2389/handoff-gateway/internal/operator"
	"github.com/2389/handoff-gateway/internal/session"
)

// Visitor-facing texts.
const (
	MsgWaiting          = "Waiting for an operator. Someone will be with you shortly."
	MsgUnavailable      = "Our support team is temporarily unavailable, please try again."
	MsgDeliveryFailed   = "Your message could not be delivered to the operator, please try again."
	MsgDelivered        = "Delivered to the operator."
	MsgHumanConnected   = "An operator has joined the conversation."
	MsgHumanLeft        = "The operator has left. You are chatting with the assistant again."
	MsgAlreadyConnected = "You are already connected to an operator."
	MsgExpired          = "This conversation expired due to inactivity."
	MsgEnded            = "This conversation has ended."
	MsgNoticeClosed     = "That notice is no longer open."
)

// Defaults for Config fields left at zero.
const (
	DefaultAssistantTimeout = 20 * time.Second
	DefaultSendTimeout      = 10 * time.Second
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultTranscriptLines  = 10
)

// Assistant answers visitor messages.
type Assistant interface {
	Ask(ctx context.Context, history []session.Message) (assistant.Reply, error)
}

// Pusher delivers events to connected visitors.
type Pusher interface {
	Push(sessionID string, ev client.Event) client.Delivery
}

// Recorder persists an audit trail of session activity.
type Recorder interface {
	Record(ctx context.Context, e *ledger.Event) error
}

// Config wires an Orchestrator. Ledger is optional.
type Config struct {
	Store     *session.Store
	Assistant Assistant
	Operators operator.Channel
	Clients   Pusher
	Ledger    Recorder

	AssistantTimeout time.Duration
	SendTimeout      time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	// TranscriptLines is how much history a claiming operator receives.
	TranscriptLines int
	// CommandPrefix is used when showing operators the command help.
	CommandPrefix string
	Now           func() time.Time
}

// Outcome is what a visitor-initiated operation produced.
type Outcome struct {
	Text       string
	NeedsHuman bool
	Mode       session.Mode
}

// Orchestrator coordinates sessions between visitors, the assistant and
// human operators.
type Orchestrator struct {
	cfg    Config
	store  *session.Store
	locks  *keyedLocks
	logger *slog.Logger
}

// New creates an Orchestrator and subscribes it to operator actions.
func New(cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Assistant == nil {
		return nil, errors.New("assistant is required")
	}
	if cfg.Operators == nil {
		return nil, errors.New("operator channel is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("client registry is required")
	}
	if cfg.AssistantTimeout <= 0 {
		cfg.AssistantTimeout = DefaultAssistantTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.TranscriptLines <= 0 {
		cfg.TranscriptLines = DefaultTranscriptLines
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:    cfg,
		store:  cfg.Store,
		locks:  newKeyedLocks(),
		logger: logger.With("component", "orchestrator"),
	}
	cfg.Operators.OnInboundOperatorAction(func(ctx context.Context, a operator.Action) {
		if err := o.HandleOperatorAction(ctx, a); err != nil {
			o.logger.Info("operator action refused", "kind", a.Kind, "operator", a.Operator, "error", err)
		}
	})
	return o, nil
}

// Store returns the session store the orchestrator writes to.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

func (o *Orchestrator) lockSession(id string) func() {
	return o.locks.lock("session:" + id)
}

func (o *Orchestrator) lockOperator(id string) func() {
	return o.locks.lock("operator:" + id)
}

// HandleVisitorMessage processes one visitor message, creating the session on
// first contact.
func (o *Orchestrator) HandleVisitorMessage(ctx context.Context, sessionID, text string, userInfo map[string]string) (Outcome, error) {
	const op = "visitor message"
	text = strings.TrimSpace(text)
	if sessionID == "" || text == "" {
		return Outcome{}, newError(ErrInvalidInput, op, sessionID, errors.New("session id and message are required"))
	}

	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, created := o.store.GetOrCreate(sessionID, userInfo)
	if created {
		o.logger.Info("session created", "session_id", sessionID)
	}
	return o.route(ctx, op, sess, text)
}

// SendToOperator is the explicit relay entry point. Unlike
// HandleVisitorMessage it never creates a session and refuses sessions still
// served by the assistant.
func (o *Orchestrator) SendToOperator(ctx context.Context, sessionID, text string) (Outcome, error) {
	const op = "send to operator"
	text = strings.TrimSpace(text)
	if sessionID == "" || text == "" {
		return Outcome{}, newError(ErrInvalidInput, op, sessionID, errors.New("session id and message are required"))
	}

	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Find(sessionID)
	if err != nil {
		return Outcome{}, classify(op, sessionID, err)
	}
	if sess.Mode == session.ModeAI {
		return Outcome{}, newError(ErrInvalidTransition, op, sessionID, errors.New("no operator requested"))
	}
	return o.route(ctx, op, sess, text)
}

// route dispatches a visitor message by mode. Caller holds the session lock.
func (o *Orchestrator) route(ctx context.Context, op string, sess *session.Session, text string) (Outcome, error) {
	switch sess.Mode {
	case session.ModePendingHuman:
		if err := o.appendMessage(ctx, sess.ID, session.RoleVisitor, "", text); err != nil {
			return Outcome{}, classify(op, sess.ID, err)
		}
		o.push(sess.ID, client.Status(MsgWaiting))
		return Outcome{Text: MsgWaiting, NeedsHuman: true, Mode: session.ModePendingHuman}, nil

	case session.ModeHuman:
		return o.relayToOperator(ctx, op, sess, text)

	default:
		return o.answer(ctx, op, sess, text)
	}
}

// answer handles a message in AI mode.
func (o *Orchestrator) answer(ctx context.Context, op string, sess *session.Session, text string) (Outcome, error) {
	snap, err := o.store.Append(sess.ID, session.Message{Role: session.RoleVisitor, Content: text})
	if err != nil {
		return Outcome{}, classify(op, sess.ID, err)
	}
	o.record(ctx, &ledger.Event{SessionID: sess.ID, Type: ledger.EventMessage, Role: string(session.RoleVisitor), Text: text})

	actx, cancel := context.WithTimeout(ctx, o.cfg.AssistantTimeout)
	reply, err := o.cfg.Assistant.Ask(actx, snap.History)
	cancel()

	reason := "assistant requested a human"
	switch {
	case err != nil:
		o.logger.Warn("assistant failed, escalating", "session_id", sess.ID, "error", err)
		reason = "assistant unavailable"
	case !reply.NeedsHuman:
		if err := o.appendMessage(ctx, sess.ID, session.RoleAssistant, "", reply.Text); err != nil {
			return Outcome{}, classify(op, sess.ID, err)
		}
		o.push(sess.ID, client.AIResponse(reply.Text, false))
		return Outcome{Text: reply.Text, Mode: session.ModeAI}, nil
	case reply.Source == assistant.SourceVisitor:
		reason = "visitor asked for a human"
	}

	// needsHuman: show whatever the assistant said, then hand off.
	outText := MsgWaiting
	if err == nil && reply.Text != "" {
		if err := o.appendMessage(ctx, sess.ID, session.RoleAssistant, "", reply.Text); err != nil {
			return Outcome{}, classify(op, sess.ID, err)
		}
		o.push(sess.ID, client.AIResponse(reply.Text, true))
		outText = reply.Text
	}

	if err := o.escalate(ctx, snap, text, reason); err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: outText, NeedsHuman: true, Mode: session.ModePendingHuman}, nil
}

// RequestHuman escalates a session on the visitor's explicit request.
// Repeated requests while waiting do not send another notification.
func (o *Orchestrator) RequestHuman(ctx context.Context, sessionID string, userInfo map[string]string) (Outcome, error) {
	const op = "request human"
	if sessionID == "" {
		return Outcome{}, newError(ErrInvalidInput, op, sessionID, errors.New("session id is required"))
	}

	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, _ := o.store.GetOrCreate(sessionID, userInfo)
	switch sess.Mode {
	case session.ModePendingHuman:
		o.push(sessionID, client.Status(MsgWaiting))
		return Outcome{Text: MsgWaiting, NeedsHuman: true, Mode: sess.Mode}, nil
	case session.ModeHuman:
		o.push(sessionID, client.Status(MsgAlreadyConnected))
		return Outcome{Text: MsgAlreadyConnected, Mode: sess.Mode}, nil
	}

	trigger := "(visitor asked for a human)"
	for _, m := range slices.Backward(sess.History) {
		if m.Role == session.RoleVisitor {
			trigger = m.Content
			break
		}
	}
	if err := o.escalate(ctx, sess, trigger, "visitor asked for a human"); err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: MsgWaiting, NeedsHuman: true, Mode: session.ModePendingHuman}, nil
}

// escalate notifies operators and only then moves the session to
// PENDING_HUMAN. Caller holds the session lock and the session is in AI mode.
func (o *Orchestrator) escalate(ctx context.Context, sess *session.Session, trigger, reason string) error {
	const op = "escalate"
	code := operator.ShortCode(sess.ID)

	nctx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	handle, err := o.cfg.Operators.NotifyClaimable(nctx, operator.Claimable{
		SessionID: sess.ID,
		Code:      code,
		UserInfo:  maps.Clone(sess.UserInfo),
		Trigger:   trigger,
		Reason:    reason,
	})
	cancel()
	if err != nil {
		o.logger.Error("claim notification failed", "session_id", sess.ID, "error", err)
		o.push(sess.ID, client.Error(MsgUnavailable))
		return newError(ErrChannelUnavailable, op, sess.ID, err)
	}

	if _, err := o.store.Transition(sess.ID, session.ModeAI, session.ModePendingHuman); err != nil {
		return classify(op, sess.ID, err)
	}
	if err := o.store.AttachClaim(sess.ID, session.Claim{Handle: string(handle), Code: code, SentAt: o.cfg.Now()}); err != nil {
		o.logger.Warn("failed to attach claim", "session_id", sess.ID, "error", err)
	}
	o.recordTransition(ctx, sess.ID, session.ModeAI, session.ModePendingHuman, reason)
	o.logger.Info("session waiting for operator", "session_id", sess.ID, "code", code, "reason", reason)

	o.push(sess.ID, client.Status(MsgWaiting))
	return nil
}

// relayToOperator forwards a visitor message to the bound operator. The
// message is kept only once delivery succeeded.
func (o *Orchestrator) relayToOperator(ctx context.Context, op string, sess *session.Session, text string) (Outcome, error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	err := o.cfg.Operators.SendToOperator(sctx, sess.Operator, fmt.Sprintf("[%s] %s", operator.ShortCode(sess.ID), text))
	cancel()
	if err != nil {
		o.logger.Warn("relay to operator failed", "session_id", sess.ID, "operator", sess.Operator, "error", err)
		o.push(sess.ID, client.Error(MsgDeliveryFailed))
		return Outcome{}, newError(ErrDeliveryFailed, op, sess.ID, err)
	}

	if err := o.appendMessage(ctx, sess.ID, session.RoleVisitor, "", text); err != nil {
		return Outcome{}, classify(op, sess.ID, err)
	}
	o.push(sess.ID, client.Status(MsgDelivered))
	return Outcome{Text: MsgDelivered, Mode: session.ModeHuman}, nil
}

// HandleOperatorAction interprets one operator event. Accept and claim
// actions take precedence over free text; free text from a bound operator is
// relayed and from an unbound operator may name a waiting conversation.
func (o *Orchestrator) HandleOperatorAction(ctx context.Context, a operator.Action) error {
	if a.Operator == "" {
		return newError(ErrInvalidInput, "operator action", a.SessionID, errors.New("operator is required"))
	}

	unlock := o.lockOperator(a.Operator)
	defer unlock()

	switch a.Kind {
	case operator.ActionAccept:
		return o.claim(ctx, a.Operator, a.SessionID, a.Code, a.Handle)

	case operator.ActionClaim:
		if a.SessionID == "" {
			o.tellOperator(ctx, a.Operator, fmt.Sprintf("No such conversation: %s", a.Code))
			return newError(ErrSessionNotFound, "claim", "", nil)
		}
		return o.claim(ctx, a.Operator, a.SessionID, a.Code, "")

	case operator.ActionEnd:
		return o.endByOperator(ctx, a.Operator)

	case operator.ActionHelp:
		o.tellOperator(ctx, a.Operator, operator.HelpText(o.cfg.CommandPrefix))
		return nil

	case operator.ActionMessage:
		if bound, err := o.store.FindByOperator(a.Operator); err == nil {
			return o.relayFromOperator(ctx, a.Operator, bound.ID, a.Text)
		}
		if a.SessionID != "" {
			return o.claim(ctx, a.Operator, a.SessionID, a.Code, "")
		}
		o.tellOperator(ctx, a.Operator, operator.HelpText(o.cfg.CommandPrefix))
		return nil
	}
	return newError(ErrInvalidInput, "operator action", a.SessionID, fmt.Errorf("unknown action %q", a.Kind))
}

// claim binds operatorID to a waiting session. A non-empty handle must name
// the session's current notice. Caller holds the operator lock.
func (o *Orchestrator) claim(ctx context.Context, operatorID, sessionID, code string, handle operator.Handle) error {
	const op = "claim"
	if code == "" {
		code = operator.ShortCode(sessionID)
	}

	if current, err := o.store.FindByOperator(operatorID); err == nil {
		if current.ID == sessionID {
			o.tellOperator(ctx, operatorID, fmt.Sprintf("You already have conversation %s.", code))
			return nil
		}
		o.tellOperator(ctx, operatorID, fmt.Sprintf("Finish your current conversation %s first.", operator.ShortCode(current.ID)))
		return newError(ErrInvalidTransition, op, sessionID, errors.New("operator already holds a conversation"))
	}

	unlock := o.lockSession(sessionID)
	defer unlock()

	if handle != "" {
		if cur, err := o.store.Find(sessionID); err == nil && cur.Mode == session.ModePendingHuman &&
			cur.Claim != nil && cur.Claim.Handle != string(handle) {
			o.tellOperator(ctx, operatorID, fmt.Sprintf("%s Conversation %s has a newer one.", MsgNoticeClosed, code))
			return newError(ErrInvalidTransition, op, sessionID, errors.New("stale claim notice"))
		}
	}

	sess, err := o.store.BindOperator(sessionID, operatorID)
	if err != nil {
		herr := classify(op, sessionID, err)
		switch {
		case errors.Is(herr, ErrAlreadyBound):
			o.tellOperator(ctx, operatorID, fmt.Sprintf("Conversation %s was already taken.", code))
		case errors.Is(herr, ErrSessionNotFound):
			o.tellOperator(ctx, operatorID, fmt.Sprintf("No such conversation: %s", code))
		default:
			o.tellOperator(ctx, operatorID, fmt.Sprintf("Conversation %s is not waiting for an operator.", code))
		}
		return herr
	}

	o.logger.Info("operator claimed session", "session_id", sessionID, "operator", operatorID)
	o.record(ctx, &ledger.Event{SessionID: sessionID, Type: ledger.EventClaim, Author: operatorID})
	o.recordTransition(ctx, sessionID, session.ModePendingHuman, session.ModeHuman, "claimed")
	if err := o.appendMessage(ctx, sessionID, session.RoleSystem, "", MsgHumanConnected); err != nil {
		o.logger.Warn("failed to note claim in history", "session_id", sessionID, "error", err)
	}

	o.push(sessionID, client.HumanConnected(MsgHumanConnected))
	o.tellOperator(ctx, operatorID, o.briefing(sess, code))
	return nil
}

// briefing is what an operator sees right after claiming.
func (o *Orchestrator) briefing(sess *session.Session, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are now connected to %s.\n", code)
	if len(sess.UserInfo) > 0 {
		b.WriteString("Visitor:")
		for _, k := range slices.Sorted(maps.Keys(sess.UserInfo)) {
			fmt.Fprintf(&b, " %s=%s", k, sess.UserInfo[k])
		}
		b.WriteString("\n")
	}
	if recent := sess.Recent(o.cfg.TranscriptLines); len(recent) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range recent {
			if m.Role == session.RoleSystem {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&b, "Reply here to talk to the visitor. Send %send when finished.", o.cfg.CommandPrefix)
	return b.String()
}

// relayFromOperator pushes operator text to the visitor. Caller holds the
// operator lock.
func (o *Orchestrator) relayFromOperator(ctx context.Context, operatorID, sessionID, text string) error {
	const op = "operator message"
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Find(sessionID)
	if err != nil {
		return classify(op, sessionID, err)
	}
	if sess.Mode != session.ModeHuman || sess.Operator != operatorID {
		return newError(ErrInvalidTransition, op, sessionID, errors.New("operator is not bound to this session"))
	}

	if err := o.appendMessage(ctx, sessionID, session.RoleOperator, operatorID, text); err != nil {
		return classify(op, sessionID, err)
	}
	if o.push(sessionID, client.OperatorMessage(text)) == client.NoConnection {
		o.logger.Debug("visitor offline, operator message kept in history", "session_id", sessionID)
	}
	return nil
}

// endByOperator returns the operator's session to the assistant.
func (o *Orchestrator) endByOperator(ctx context.Context, operatorID string) error {
	const op = "end"
	current, err := o.store.FindByOperator(operatorID)
	if err != nil {
		o.tellOperator(ctx, operatorID, "You have no active conversation.")
		return classify(op, "", err)
	}

	unlock := o.lockSession(current.ID)
	defer unlock()

	// The binding may have changed before the session lock was taken.
	current, err = o.store.Find(current.ID)
	if err != nil || current.Mode != session.ModeHuman || current.Operator != operatorID {
		o.tellOperator(ctx, operatorID, "You have no active conversation.")
		return newError(ErrSessionNotFound, op, "", errors.New("operator is no longer bound"))
	}

	if _, err := o.store.Transition(current.ID, session.ModeHuman, session.ModeAI); err != nil {
		return classify(op, current.ID, err)
	}
	o.logger.Info("operator ended session", "session_id", current.ID, "operator", operatorID)
	o.recordTransition(ctx, current.ID, session.ModeHuman, session.ModeAI, "operator ended")
	if err := o.appendMessage(ctx, current.ID, session.RoleSystem, "", MsgHumanLeft); err != nil {
		o.logger.Warn("failed to note end in history", "session_id", current.ID, "error", err)
	}

	o.push(current.ID, client.HumanDisconnected(MsgHumanLeft))
	o.tellOperator(ctx, operatorID, fmt.Sprintf("Conversation %s ended.", operator.ShortCode(current.ID)))
	return nil
}

// EndSession removes a session on request of the visitor or an administrator.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	const op = "end session"
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.store.Remove(sessionID)
	if err != nil {
		return classify(op, sessionID, err)
	}
	o.logger.Info("session ended", "session_id", sessionID, "mode", sess.Mode)
	o.record(ctx, &ledger.Event{SessionID: sessionID, Type: ledger.EventEviction, FromMode: string(sess.Mode), Text: "ended"})

	if sess.Operator != "" {
		o.tellOperator(ctx, sess.Operator, fmt.Sprintf("The visitor ended conversation %s.", operator.ShortCode(sessionID)))
	}
	o.push(sessionID, client.Status(MsgEnded))
	return nil
}

// appendMessage adds to history and mirrors the message into the ledger.
func (o *Orchestrator) appendMessage(ctx context.Context, sessionID string, role session.Role, author, text string) error {
	if _, err := o.store.Append(sessionID, session.Message{Role: role, Content: text}); err != nil {
		return err
	}
	o.record(ctx, &ledger.Event{SessionID: sessionID, Type: ledger.EventMessage, Role: string(role), Author: author, Text: text})
	return nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, sessionID string, from, to session.Mode, reason string) {
	o.record(ctx, &ledger.Event{SessionID: sessionID, Type: ledger.EventTransition, FromMode: string(from), ToMode: string(to), Text: reason})
}

func (o *Orchestrator) record(ctx context.Context, e *ledger.Event) {
	if o.cfg.Ledger == nil {
		return
	}
	if err := o.cfg.Ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn("ledger write failed", "session_id", e.SessionID, "type", e.Type, "error", err)
	}
}

func (o *Orchestrator) push(sessionID string, ev client.Event) client.Delivery {
	return o.cfg.Clients.Push(sessionID, ev)
}

// tellOperator is a best-effort notice to an operator.
func (o *Orchestrator) tellOperator(ctx context.Context, operatorID, text string) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	defer cancel()
	if err := o.cfg.Operators.SendToOperator(sctx, operatorID, text); err != nil {
		o.logger.Warn("operator notice failed", "operator", operatorID, "error", err)
	}
}
