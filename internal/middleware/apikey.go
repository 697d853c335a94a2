package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/Rorqualx/darkmode-go/internal/config"
)

// APIKey rejects requests without the configured key. The key is read from
// X-API-Key or an Authorization bearer token. /health stays open for
// probes.
func APIKey(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIKeyEnabled || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
					key = strings.TrimSpace(auth[7:])
				}
			}

			if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing API key", time.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
