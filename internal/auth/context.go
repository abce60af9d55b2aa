// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating it via context

package auth

import "context"

// Identity is the caller of an operations API request.
type Identity struct {
	Subject string
	Role    string
}

// IsAdmin returns true if the identity may change session state.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// authContextKey is the key type for storing Identity in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the Identity attached.
func WithAuth(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, authContextKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(authContextKey{}).(*Identity)
	return id
}
