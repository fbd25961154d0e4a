// Package authmw provides HTTP middleware that verifies HS256 bearer tokens
// and places the caller's identity on the request context.
package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the token claims the identity is read from.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the submitter identity. The
// subject stands in for a missing user_id.
func (c *Claims) Identity() complaint.Identity {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return complaint.Identity{UserID: id, Name: c.Name, Email: c.Email, Role: c.Role}
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tok. Expiry and not-before are enforced when
// present; the email claim is required.
func (v *Verifier) Verify(tok string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	return claims, nil
}

// Sign mints a token for c.
func (v *Verifier) Sign(c *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id complaint.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by the middleware.
func FromContext(ctx context.Context) (complaint.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(complaint.Identity)
	return id, ok
}

// Authenticate returns middleware that rejects requests without a valid
// bearer token and stores the verified identity on the request context.
func Authenticate(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			claims, err := v.Verify(auth[len("Bearer "):])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
		})
	}
}

// RequireAdmin returns middleware that only lets admin identities through.
// It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}
