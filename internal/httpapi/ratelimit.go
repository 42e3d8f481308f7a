package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"clinic/reception-service/internal/config"
)

// RateLimiter applies a token bucket per client IP and another per tenant
// slug taken from the X-Tenant header.
type RateLimiter struct {
	ipLimiter     *tokenLimiter
	tenantLimiter *tokenLimiter
	now           func() time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:     newTokenLimiter(cfg.PerMinute, cfg.Burst),
		tenantLimiter: newTokenLimiter(cfg.TenantPerMinute, cfg.TenantBurst),
		now:           time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, requestID := rateLimitKeys(r)
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip, l.now()) {
			writeError(w, requestID, http.StatusTooManyRequests, kindRateLimited, "rate_limited", "too many requests")
			return
		}
		if tenant != "" && !l.tenantLimiter.allow(tenant, l.now()) {
			writeError(w, requestID, http.StatusTooManyRequests, kindRateLimited, "rate_limited", "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type tokenLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:    float64(perMinute) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
	}
}

func (l *tokenLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitKeys returns the tenant slug and request id used for limiting and
// error reporting.
func rateLimitKeys(r *http.Request) (string, string) {
	return tenantSlugFromRequest(r), requestIDFromRequest(r)
}
