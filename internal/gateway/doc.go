// Package gateway runs the handoff-gateway server.
//
// # Overview
//
// The Gateway owns every long-lived component and wires them together:
//
//	visitor (HTTP / WebSocket) ──▶ handoff.Orchestrator ──▶ assistant.Gateway
//	                                      │   ▲
//	                                      ▼   │
//	                           operator.Matrix (operator room)
//
// New builds the components from config.Config without contacting anything.
// Run opens the listener (plain TCP or a tailscale tsnet node, optionally with
// HTTPS or Funnel), starts the Matrix sync loop and the idle-session sweeper,
// and blocks until the context is cancelled or a component fails.
//
// # Visitor API
//
//   - POST /chat {sessionId, message, userInfo?} -> {success, message, requiresHuman, mode}
//   - POST /connect-human {sessionId, userInfo?} -> {success, message}
//   - POST /send-to-operator {sessionId, message} -> {success}
//   - GET /ws?sessionId= - real-time channel (see client.Event / client.Inbound)
//
// Visitor endpoints answer CORS preflights for client.allowed_origins. The
// WebSocket upgrade accepts same-host origins plus the configured ones.
//
// Errors use {success: false, error} with these statuses:
//
//	400 invalid input
//	404 unknown session
//	409 wrong mode or conversation already taken
//	503 operator channel or assistant unavailable, delivery failed
//
// # Operations API
//
// Registered only when auth.jwt_secret is set. All routes need a bearer JWT
// (see package auth):
//
//   - GET /api/sessions[?mode=]
//   - GET /api/sessions/{id}
//   - GET /api/sessions/{id}/transcript[?limit=] (ledger required)
//   - GET /api/bindings
//   - DELETE /api/sessions/{id} (admin role)
//
// # Health
//
//   - GET /health - liveness
//   - GET /health/ready - 200 once the operator channel is syncing
package gateway
