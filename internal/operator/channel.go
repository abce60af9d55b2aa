// ABOUTME: Operator channel contract: claim notifications, outbound relay and inbound actions.
// ABOUTME: Platform adapters (Matrix) implement Channel; the orchestrator consumes Actions.

package operator

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrChannelUnavailable indicates the claim notification could not be posted.
var ErrChannelUnavailable = errors.New("operator channel unavailable")

// ErrDeliveryFailed indicates a message could not be delivered to an operator.
var ErrDeliveryFailed = errors.New("operator delivery failed")

// Claimable describes a waiting session offered to operators.
type Claimable struct {
	SessionID string
	Code      string
	UserInfo  map[string]string
	Trigger   string // visitor message that caused the escalation
	Reason    string
}

// Handle identifies a posted claim notification on the operator platform.
type Handle string

// ActionKind classifies what an operator did.
type ActionKind string

// Operator action kinds.
const (
	// ActionAccept is a platform-authenticated accept of a specific
	// notification, such as a reaction to it.
	ActionAccept ActionKind = "accept"
	// ActionClaim is an explicit claim command carrying a code.
	ActionClaim ActionKind = "claim"
	// ActionEnd ends the operator's current conversation.
	ActionEnd ActionKind = "end"
	// ActionHelp asks for usage.
	ActionHelp ActionKind = "help"
	// ActionMessage is free text. If the operator holds a conversation it is
	// relayed; otherwise Code may carry a short code the text matched.
	ActionMessage ActionKind = "message"
)

// Action is one inbound operator event, already resolved by the adapter.
type Action struct {
	Kind      ActionKind
	Operator  string // platform identity, e.g. a Matrix user id
	SessionID string // resolved target for accept and claim actions
	Handle    Handle // notice an accept answered
	Code      string
	Text      string
}

// ActionHandler receives operator actions in platform order.
type ActionHandler func(ctx context.Context, action Action)

// Channel is the operator-facing side of the gateway.
type Channel interface {
	// NotifyClaimable broadcasts a waiting session to operators. Errors wrap
	// ErrChannelUnavailable.
	NotifyClaimable(ctx context.Context, c Claimable) (Handle, error)
	// SendToOperator delivers text to one operator. Errors wrap ErrDeliveryFailed.
	SendToOperator(ctx context.Context, operator, text string) error
	// OnInboundOperatorAction registers the handler for operator actions.
	OnInboundOperatorAction(h ActionHandler)
}

// shortCodeLen is how many characters of the session id form the short code.
const shortCodeLen = 8

// ShortCode derives the human-typable code for a session: the first eight
// letters and digits of its id, upper-cased.
func ShortCode(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		if b.Len() == shortCodeLen {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NormalizeCode turns operator input such as "#ab12cd34" into code form.
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "#")
	return strings.ToUpper(s)
}
