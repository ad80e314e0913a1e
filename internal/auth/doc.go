// ABOUTME: Package auth authenticates chat users with HS256 JWTs
// ABOUTME: Token signing and verification plus HTTP middleware and context helpers

// Package auth provides authentication for xeno-gateway.
//
// # Modes
//
// Authentication is optional. With auth.jwt_secret unset the gateway runs in
// anonymous mode: callers name themselves with the userId body field, and
// conversations without one are filed under the anonymous user.
//
// With a secret configured every /api and /ws request needs a bearer token,
// and the token's sub claim is the user id. A userId in the request body is
// ignored in favor of the token.
//
// # Tokens
//
// Tokens are HS256 JWTs with sub, iss, iat and exp claims:
//
//	v, err := auth.NewJWTVerifier([]byte(secret)) // at least 32 bytes
//	token, err := v.Generate("u1", 24*time.Hour)
//	userID, err := v.Verify(token)
//
// Verify rejects other algorithms, other issuers, expired tokens
// (ErrExpiredToken) and tokens without a subject (ErrMissingClaim).
//
// # HTTP Middleware
//
// HTTPAuthMiddleware reads the Authorization header, or the access_token
// query parameter when the header is absent (browsers cannot set headers on
// WebSocket upgrades). Failures answer 401 with the gateway's JSON error
// envelope and are logged with a reason attribute.
//
// RequireSelf restricts per-user listings to the caller's own user id.
//
// Handlers resolve the acting user with UserID(ctx, claimed), which prefers
// the verified subject over the claimed value.
package auth
