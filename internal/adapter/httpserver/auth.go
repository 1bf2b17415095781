package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// Expected audience on every accepted token.
const jwtAudience = "authenticated"

type userIDKey struct{}
type adminKey struct{}

// claims is the token shape issued by the auth provider: sub carries the
// user id, and admin rights ride inside app_metadata.
type claims struct {
	jwt.RegisteredClaims
	AppMetadata struct {
		ClaimsAdmin bool `json:"claims_admin"`
	} `json:"app_metadata"`
}

// Auth verifies bearer JWTs (HS256, aud=authenticated, exp>now) and puts
// the subject user id in the request context.
type Auth struct {
	secret []byte
}

// NewAuth builds the verifier around the shared HS256 secret.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// parse validates the raw token and returns its claims.
func (a *Auth) parse(raw string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithAudience(jwtAudience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return &c, nil
}

// Require rejects requests without a valid token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized), nil)
			return
		}
		c, err := a.parse(raw)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, c.Subject)
		ctx = context.WithValue(ctx, adminKey{}, c.AppMetadata.ClaimsAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin additionally demands the app_metadata.claims_admin claim.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r) {
			writeError(w, r, fmt.Errorf("%w: admin claim required", domain.ErrForbidden), nil)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// Identify resolves the caller for rate limiting without rejecting anyone:
// a valid token yields the user id, anything else degrades to "anon".
func (a *Auth) Identify(r *http.Request) string {
	raw := bearerToken(r)
	if raw == "" {
		return "anon"
	}
	c, err := a.parse(raw)
	if err != nil {
		return "anon"
	}
	return c.Subject
}

// UserID returns the authenticated user id stored by Require.
func UserID(r *http.Request) string {
	if v := r.Context().Value(userIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsAdmin reports whether the authenticated caller carries the admin claim.
func IsAdmin(r *http.Request) bool {
	if v := r.Context().Value(adminKey{}); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
