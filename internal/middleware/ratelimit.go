package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// maxClients bounds the tracked addresses.
const maxClients = 10000

// RateLimiter is a fixed-window limiter keyed by client address. Stale
// windows are swept while handling requests, so it owns no goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	rate      int
	window    time.Duration
	clients   map[string]*window
	lastSweep time.Time
}

type window struct {
	start time.Time
	used  int
}

// NewRateLimiter allows rate requests per window for each client. A nil
// clock uses the wall clock.
func NewRateLimiter(rate int, per time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:     clk,
		rate:      rate,
		window:    per,
		clients:   make(map[string]*window),
		lastSweep: clk.Now(),
	}
}

// Allow records a request from key. When it is refused, retry is the time
// left in the client's window.
func (rl *RateLimiter) Allow(key string) (ok bool, retry time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(now)
	}

	w, exists := rl.clients[key]
	if !exists || now.Sub(w.start) >= rl.window {
		if !exists && len(rl.clients) >= maxClients {
			rl.evictOldest()
		}
		rl.clients[key] = &window{start: now, used: 1}
		return true, 0
	}
	if w.used < rl.rate {
		w.used++
		return true, 0
	}
	return false, rl.window - now.Sub(w.start)
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, k)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) evictOldest() {
	var oldest string
	var at time.Time
	for k, w := range rl.clients {
		if oldest == "" || w.start.Before(at) {
			oldest, at = k, w.start
		}
	}
	delete(rl.clients, oldest)
}

// Handler returns the middleware. Enable trustProxy only behind a reverse
// proxy that sets X-Forwarded-For; otherwise clients can pick their key.
func (rl *RateLimiter) Handler(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r, trustProxy)
			ok, retry := rl.Allow(ip)
			if !ok {
				secs := int(retry.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				log.Debug().Str("client", maskIP(ip)).Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", rl.clock.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeIP folds IPv4-mapped IPv6 so one client has one key.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := normalizeIP(xri); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}
