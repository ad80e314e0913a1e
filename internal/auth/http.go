// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Extracts the bearer token, verifies it, and puts the user id on the request context

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam carries the token on requests that cannot set headers,
// such as browser WebSocket upgrades.
const TokenQueryParam = "access_token"

// extractBearerToken extracts a bearer token from the Authorization header,
// falling back to the access_token query parameter.
// Returns the token and an error message (empty if successful).
func extractBearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if q := r.URL.Query().Get(TokenQueryParam); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeAuthError writes the gateway's failure envelope.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"message": msg},
	})
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	args := append([]any{
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	}, attrs...)
	logger.Warn("http auth failure", args...)
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// The verified subject becomes the request's AuthContext. logger may be nil.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r)
			if errMsg != "" {
				logAuthFailure(logger, r, "token_extraction_failed", "detail", errMsg)
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logAuthFailure(logger, r, "token_verification_failed", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: userID})))
		})
	}
}

// RequireSelf creates an HTTP middleware that only lets an authenticated
// user reach resources under their own user id, read from the named path
// value. Must be used after HTTPAuthMiddleware.
func RequireSelf(pathParam string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				logAuthFailure(logger, r, "not_authenticated")
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if r.PathValue(pathParam) != authCtx.UserID {
				logAuthFailure(logger, r, "foreign_user", "user_id", authCtx.UserID)
				writeAuthError(w, http.StatusForbidden, "access to another user's data is not allowed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
