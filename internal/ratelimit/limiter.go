// Package ratelimit provides fixed-window request limiting keyed by caller.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config configures one limiter.
type Config struct {
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`
	// Window is the length of one counting window.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether limiting is active.
	Enabled bool `yaml:"enabled"`
}

// window counts requests for one key.
type window struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter manages fixed windows for many keys (users or client addresses).
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Requests <= 0 {
		config.Requests = 100
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Allow counts a request for key and reports whether it fits the window.
func (l *Limiter) Allow(key string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true, Limit: l.config.Requests, Remaining: l.config.Requests}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(l.windows) >= l.maxKeys {
			l.prune(now)
		}
		w = &window{resetAt: now.Add(l.config.Window)}
		l.windows[key] = w
	}

	w.count++
	remaining := l.config.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count <= l.config.Requests,
		Limit:     l.config.Requests,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// prune drops expired windows (must be called with lock held).
func (l *Limiter) prune(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// Reset clears the window for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// KeyFunc derives the limiting key from a request.
type KeyFunc func(*http.Request) string

// ClientIP keys requests by the first X-Forwarded-For hop or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// Middleware rejects requests over the limit with 429 and a JSON error body.
// Standard RateLimit-* headers are set on every response.
func Middleware(l *Limiter, key KeyFunc, message string) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(key(r))
			if l.config.Enabled {
				reset := int(time.Until(d.ResetAt).Round(time.Second).Seconds())
				if reset < 0 {
					reset = 0
				}
				w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("RateLimit-Reset", strconv.Itoa(reset))
			}
			if !d.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
