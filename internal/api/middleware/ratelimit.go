package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/ratelimit"
)

// RateLimiterConfig holds the per-IP HTTP budgets.
type RateLimiterConfig struct {
	ConnectLimit  int // WebSocket connects per IP per minute
	SnapshotLimit int // /members, /messages and /stats reads per IP per minute
	Whitelist     *ratelimit.Whitelist
}

// RateLimiter limits WebSocket connects and snapshot reads per client IP.
type RateLimiter struct {
	limiter   *ratelimit.Limiter
	connect   ratelimit.Rule
	snapshot  ratelimit.Rule
	whitelist *ratelimit.Whitelist
	logger    zerolog.Logger
}

// NewRateLimiter creates the HTTP rate limiting middleware.
func NewRateLimiter(limiter *ratelimit.Limiter, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	if cfg.ConnectLimit <= 0 {
		cfg.ConnectLimit = 30
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = 60
	}
	if n := cfg.Whitelist.Len(); n > 0 {
		logger.Info().Int("entries", n).Msg("rate limit whitelist configured")
	}
	return &RateLimiter{
		limiter:   limiter,
		connect:   ratelimit.Rule{Name: "connect", Limit: cfg.ConnectLimit, Window: time.Minute},
		snapshot:  ratelimit.Rule{Name: "snapshot", Limit: cfg.SnapshotLimit, Window: time.Minute},
		whitelist: cfg.Whitelist,
		logger:    logger,
	}
}

// ruleFor returns the budget a request spends from, if any.
func (rl *RateLimiter) ruleFor(r *http.Request) (ratelimit.Rule, bool) {
	if r.Method != http.MethodGet {
		return ratelimit.Rule{}, false
	}
	switch {
	case r.URL.Path == "/ws":
		return rl.connect, true
	case r.URL.Path == "/members", r.URL.Path == "/messages", r.URL.Path == "/stats",
		strings.HasPrefix(r.URL.Path, "/members/"):
		return rl.snapshot, true
	}
	return ratelimit.Rule{}, false
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.ruleFor(r)
		ip := RealIP(r)
		if !ok || rl.whitelist.Contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		d, err := rl.limiter.Allow(r.Context(), rule, ip)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit unavailable, allowing")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			metrics.RateLimitHits.WithLabelValues(rule.Name).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			retry := int(time.Until(d.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RealIP extracts the client IP. Cloud Foundry's router sets
// X-Forwarded-For; the first entry is the client.
func RealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
