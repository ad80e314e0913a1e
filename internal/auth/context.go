// ABOUTME: Authentication context for tracking the calling user through request handlers
// ABOUTME: Provides WithAuth/FromContext and user id resolution for handlers

package auth

import (
	"context"
	"strings"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	UserID string // sub claim of the verified token
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// UserID resolves the acting user: the authenticated subject when present,
// otherwise the caller-claimed id, trimmed. An empty result means anonymous.
func UserID(ctx context.Context, claimed string) string {
	if a := FromContext(ctx); a != nil && a.UserID != "" {
		return a.UserID
	}
	return strings.TrimSpace(claimed)
}
