package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists exact origins. Empty rejects all cross-origin
	// requests; "*" allows any origin without credentials.
	AllowedOrigins []string
}

// CORS adds CORS headers for allowed origins and answers preflights.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	_, wildcard := allowed["*"]

	if len(allowed) == 0 {
		log.Debug().Msg("No CORS origins configured, cross-origin requests will be rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			if origin != "" {
				_, ok := allowed[origin]
				switch {
				case ok:
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
				case wildcard:
					h.Set("Access-Control-Allow-Origin", "*")
				default:
					log.Debug().Str("origin", origin).Msg("CORS request from non-allowed origin")
				}
				if h.Get("Access-Control-Allow-Origin") != "" {
					h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization")
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Cache-Control", "no-store, max-age=0")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets headers that keep API responses out of caches and
// frames.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
