package terminal

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/antibyte/webterm/pkg/auth"
	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
)

// RateLimitConfig is the token bucket applied to every client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimitConfigFromSettings reads the [Security] section.
func RateLimitConfigFromSettings() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: configuration.GetFloat("Security", "rate_limit_per_second", 20),
		Burst:             configuration.GetInt("Security", "rate_limit_burst", 40),
	}
}

// IPRateLimiter keeps one token bucket per client IP. Websocket frames and
// HTTP requests from the same address share the bucket.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*rateClient
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates an empty limiter.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	return &IPRateLimiter{
		cfg:     cfg,
		clients: make(map[string]*rateClient),
	}
}

// Allow takes one token from ip's bucket.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &rateClient{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()

	if limiter.Allow() {
		return true
	}
	metrics.Default().RateLimited.Inc()
	logger.Warn(logger.AreaSecurity, "Rate limit exceeded for %s", ip)
	return false
}

// Prune forgets buckets idle for longer than maxIdle and returns how many
// were removed.
func (l *IPRateLimiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware answers 429 once the caller's bucket is empty.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(auth.GetClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
