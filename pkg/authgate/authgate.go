// Package authgate implements the façade's own optional bearer-key gate
// (SPEC_FULL.md §2 — distinct from C1's upstream-registry auth): when a
// signing secret is configured, every inbound request must carry a valid
// HMAC-signed (HS256, HS384 or HS512) JWT; when unset, the gate is a
// pass-through.
//
// Adapted from the teacher's pkg/middleware/auth.go AuthMiddleware, with
// the Docker-registry-specific scope/session/redis machinery dropped — this
// façade has no user accounts, so there is nothing to look up beyond
// signature and expiry.
package authgate

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Gate validates the Authorization header of inbound requests.
type Gate struct {
	secret []byte
}

// New constructs a Gate. An empty secret disables the gate entirely.
func New(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Enabled reports whether the gate enforces anything.
func (g *Gate) Enabled() bool {
	return len(g.secret) > 0
}

// Middleware wraps next with the bearer-key check. Requests are rejected
// with 401 and a Www-Authenticate challenge on a missing or invalid token
// (spec.md §4.6 unauthorized taxonomy entry).
func (g *Gate) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			g.challenge(w)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return g.secret, nil
		})
		if err != nil || !token.Valid {
			g.challenge(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) challenge(w http.ResponseWriter) {
	w.Header().Set("Www-Authenticate", `Bearer realm="ociregistryx"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"type":"https://xregistry.io/problems#unauthorized","title":"Authentication is required","status":401}`))
}
