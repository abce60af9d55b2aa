// Package operator connects the gateway to the human operators' chat platform.
//
// # Overview
//
// Operators never use a gateway UI. They sit in a Matrix room where the
// gateway posts a notice for every visitor waiting for a human. The Channel
// interface hides the platform from the orchestrator:
//
//   - NotifyClaimable(ctx, c): post a notice, return its Handle
//   - SendToOperator(ctx, operator, text): deliver a visitor message
//   - OnInboundOperatorAction(h): receive operator actions
//
// # Claiming
//
// An operator takes a waiting conversation in one of two ways:
//
//   - reacting to the notice (ActionAccept, bound to that exact notice)
//   - typing "!accept CODE" or just the code (ActionClaim / ActionMessage)
//
// The code is ShortCode(sessionID), a stable truncation of the session id.
// The adapter resolves both forms to a session id; deciding who wins is the
// orchestrator's job.
//
// # Matrix
//
// Matrix uses mautrix. Events from the bot itself, from before startup, from
// rooms outside the allow list, or from users outside allowed_users are
// ignored. Redelivered events are dropped by event id.
package operator
