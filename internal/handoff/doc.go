// Package handoff moves support conversations between the AI assistant and
// human operators.
//
// # Modes
//
// Every session is in one of three modes:
//
//	AI ──needs human / visitor asks──▶ PENDING_HUMAN ──first claim──▶ HUMAN
//	 ▲                                                                 │
//	 └──────────────────────── operator ends ◀──────────────────────────┘
//
// Any mode may be evicted after the idle timeout.
//
// The orchestrator is the only writer of a session's mode. A transition is
// committed only after the side effect it depends on succeeded: escalation
// first sends the claim notification and then moves AI to PENDING_HUMAN; if the
// notification fails the session stays in AI and the visitor gets an error
// event.
//
// # Serialization
//
// All work on one session id runs under a per-key mutex (keyedLocks). Operator
// actions additionally hold a per-operator lock, always taken before the
// session lock. Different sessions proceed in parallel.
//
// Claims race through session.Store.BindOperator, which only succeeds while
// the session is PENDING_HUMAN. The first claimant wins; later ones get
// ErrAlreadyBound and a "already taken" notice.
//
// # Errors
//
// Failures leave the package as *Error with one of the sentinel kinds
// (ErrSessionNotFound, ErrInvalidTransition, ErrChannelUnavailable,
// ErrDeliveryFailed, ErrAlreadyBound, ErrUpstream, ErrInvalidInput).
package handoff
