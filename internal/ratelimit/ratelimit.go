// Package ratelimit counts events per subject in fixed windows kept in
// Redis, so every relay instance spends from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Rule allows Limit events per subject in each Window. A rule with no limit
// or no window allows everything.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one counted event.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts events in Redis.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source used to pick windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter over client.
func New(client *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{client: client, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one event for subject under rule. If Redis cannot be reached
// the event is allowed and the error returned for logging.
func (l *Limiter) Allow(ctx context.Context, rule Rule, subject string) (Decision, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	window := rule.Window.Milliseconds()
	bucket := l.now().UnixMilli() / window
	resetAt := time.UnixMilli((bucket + 1) * window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rule.Name, subject, bucket)

	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*rule.Window)
		return nil
	})
	if err != nil {
		return Decision{Allowed: true, Remaining: rule.Limit, ResetAt: resetAt},
			fmt.Errorf("count %s for %s: %w", rule.Name, subject, err)
	}

	n := int(count.Val())
	return Decision{
		Allowed:   n <= rule.Limit,
		Remaining: max(rule.Limit-n, 0),
		ResetAt:   resetAt,
	}, nil
}

// Gate applies one rule to a stream of events, skipping whitelisted
// subjects.
type Gate struct {
	limiter   *Limiter
	rule      Rule
	whitelist *Whitelist
	logger    zerolog.Logger
}

// Gate binds rule to the limiter.
func (l *Limiter) Gate(rule Rule, whitelist *Whitelist, logger zerolog.Logger) *Gate {
	return &Gate{
		limiter:   l,
		rule:      rule,
		whitelist: whitelist,
		logger:    logger.With().Str("component", "ratelimit").Str("rule", rule.Name).Logger(),
	}
}

// Allow reports whether subject may perform one more event.
func (g *Gate) Allow(ctx context.Context, subject string) bool {
	if g.whitelist.Contains(subject) {
		return true
	}

	d, err := g.limiter.Allow(ctx, g.rule, subject)
	if err != nil {
		g.logger.Warn().Err(err).Msg("rate limit unavailable, allowing")
	}
	if !d.Allowed {
		metrics.RateLimitHits.WithLabelValues(g.rule.Name).Inc()
		g.logger.Warn().
			Str("type", "security").
			Str("event", "rate_limit_exceeded").
			Str("ip", subject).
			Msg("rate limit exceeded")
	}
	return d.Allowed
}
