package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/AdamBeresnev/matchday/internal/httputil"
)

const bearerPrefix = "Bearer "

// RequireAPIKey guards administrative routes. An empty key disables the check.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				presented := r.Header.Get("X-API-Key")
				if presented == "" {
					presented = bearerToken(r)
				}
				if !equal(presented, key) {
					httputil.Unauthorized(w, "invalid API key")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer checks the token game servers present when fetching a config.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !equal(bearerToken(r), token) {
				httputil.Unauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSharedSecret checks the secret header game servers send with events.
func RequireSharedSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !equal(r.Header.Get(header), secret) {
				httputil.Unauthorized(w, "invalid event secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))
}

func equal(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
