// ABOUTME: Error taxonomy surfaced by the orchestrator to transports
// ABOUTME: Collaborator failures are converted to one of these kinds before leaving the package

package handoff

import (
	"errors"
	"fmt"

	"github.com/2389/handoff-gateway/internal/assistant"
	"github.com/2389/handoff-gateway/internal/operator"
	"github.com/2389/handoff-gateway/internal/session"
)

// Error kinds. Match with errors.Is.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrChannelUnavailable = errors.New("operator channel unavailable")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrAlreadyBound       = errors.New("conversation already taken")
	ErrUpstream           = errors.New("assistant unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// Error is a classified orchestrator failure.
type Error struct {
	Kind      error
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}

// classify converts a collaborator error into an *Error. Already classified
// errors pass through unchanged.
func classify(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return he
	}

	var kind error
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		kind = ErrSessionNotFound
	case errors.Is(err, session.ErrAlreadyBound):
		kind = ErrAlreadyBound
	case errors.Is(err, session.ErrInvalidTransition):
		kind = ErrInvalidTransition
	case errors.Is(err, operator.ErrChannelUnavailable):
		kind = ErrChannelUnavailable
	case errors.Is(err, assistant.ErrUpstream):
		kind = ErrUpstream
	default:
		// Anything else came from a send that did not complete.
		kind = ErrDeliveryFailed
	}
	return newError(kind, op, sessionID, err)
}
