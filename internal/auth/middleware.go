// Package auth provides the authentication middleware slot. Deployments
// without an identity provider run Noop or a static APIKey; an OIDC
// verifier can be plugged into the same slot.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lakekeeper/lakekeeper/internal/api"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Noop passes every request through with an anonymous actor.
func Noop() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// APIKey validates requests against a static key from the
// "Authorization: Bearer <key>" header. A matching key authenticates the
// single operator principal with admin privileges; single-key deployments
// have exactly one identity. An empty key behaves like Noop. GET /health
// stays open so probes work without credentials. Comparison is constant
// time.
func APIKey(key string) func(http.Handler) http.Handler {
	if key == "" {
		return Noop()
	}
	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				api.WriteError(w, r, domain.Unauthenticated("missing or invalid Authorization header"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), keyBytes) != 1 {
				api.WriteError(w, r, domain.Unauthenticated("invalid API key"))
				return
			}

			// The middleware runs after metadata assembly, so the actor can
			// be stamped in place.
			if meta := api.MetadataFromContext(r.Context()); meta != nil {
				meta.Actor = domain.UserID("root")
				meta.HasAdminPrivileges = true
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
