// Package auth protects the gateway's operations API.
//
// # Tokens
//
// Support staff and tooling authenticate with HS256 JWTs signed with the
// configured auth.jwt_secret (at least 32 bytes). Claims:
//
//   - sub: who is calling (required)
//   - role: "admin" or "viewer" (missing means viewer)
//   - exp/iat: standard lifetime claims
//
// Tokens are minted with the binary:
//
//	handoff-gateway token --sub alice --role admin --ttl 720h
//
// # Middleware
//
// HTTPAuthMiddleware validates the bearer token and stores the caller's
// Identity in the request context (WithAuth/FromContext). RequireAdminHTTP
// gates endpoints that change session state.
//
// Visitor endpoints are not authenticated here; the session id is the
// visitor's credential.
package auth
