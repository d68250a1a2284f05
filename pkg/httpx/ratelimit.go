package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tanglebox/keywarden/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the transport-edge limiter parameters. This limiter
// is unauthenticated DoS protection in front of the handlers; the audited
// per-(client, origin) fixed-window limiter lives in the service layer.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

var (
	// StrictLimit fronts credential-bearing endpoints (token issuance).
	StrictLimit = RateLimitConfig{RequestsPerWindow: 30, Window: time.Minute, Burst: 30}

	// ModerateLimit fronts revocation and verification endpoints.
	ModerateLimit = RateLimitConfig{RequestsPerWindow: 120, Window: time.Minute, Burst: 120}

	// LenientLimit fronts health and documentation endpoints.
	LenientLimit = RateLimitConfig{RequestsPerWindow: 600, Window: time.Minute, Burst: 600}
)

// ClientIP extracts the originating address, honouring X-Forwarded-For and
// X-Real-IP for proxied requests.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type edgeLimiter struct {
	limiters sync.Map // ip -> *rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func (e *edgeLimiter) get(key string) *rate.Limiter {
	if l, ok := e.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := e.limiters.LoadOrStore(key, rate.NewLimiter(e.rate, e.burst))
	e.maybeCleanup()
	return l.(*rate.Limiter)
}

// maybeCleanup drops limiters whose buckets are full again; a full bucket
// means the key has been idle for at least one window.
func (e *edgeLimiter) maybeCleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.lastCleanup) < 5*time.Minute {
		return
	}
	e.lastCleanup = time.Now()

	e.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(e.burst) {
			e.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitByIP returns a middleware that throttles per originating address
// using a token bucket.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	limiter := &edgeLimiter{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			l := limiter.get(ip)
			if !l.Allow() {
				res := l.Reserve()
				delay := res.Delay()
				res.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				slogx.FromContext(r.Context()).Warn("edge rate limit exceeded",
					"ip", ip, "endpoint", r.URL.Path, "retry_after", retryAfter)

				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limit_exceeded",
					"error_description": "too many requests, try again later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
