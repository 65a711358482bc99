// Package ratelimit enforces per-endpoint-class sliding-window limits backed
// by the cache store. A cache outage fails open: availability of login wins
// over strict limiting, and every fail-open is logged and counted.
package ratelimit

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/observability"
)

// EndpointClass names a rate-limited operation
type EndpointClass string

const (
	ClassRegister      EndpointClass = "register"
	ClassLogin         EndpointClass = "login"
	ClassPasswordReset EndpointClass = "password_reset"
	ClassEmailVerify   EndpointClass = "email_verify"
)

// Policy is one sliding window: at most Max events per Window
type Policy struct {
	Max    int
	Window time.Duration
}

// Result reports a limiter decision. RetryAfter is only meaningful when
// Allowed is false.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter checks request budgets per endpoint class and key
type Limiter struct {
	cache    *cache.Client
	policies map[EndpointClass]Policy
	enabled  bool
	clock    clockwork.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewLimiter creates a limiter. A nil clock uses the real clock; metrics may
// be nil. A disabled limiter allows everything.
func NewLimiter(c *cache.Client, policies map[EndpointClass]Policy, enabled bool, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		cache:    c,
		policies: policies,
		enabled:  enabled,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckAndRecord checks the budget for (class, key) and records the attempt
// when allowed. Unknown classes and cache outages allow the request.
func (l *Limiter) CheckAndRecord(ctx context.Context, class EndpointClass, key string) Result {
	if !l.enabled {
		return Result{Allowed: true}
	}
	policy, ok := l.policies[class]
	if !ok {
		return Result{Allowed: true}
	}

	allowed, retryAfter, err := l.cache.SlidingWindowAllow(ctx, string(class)+":"+key, policy.Max, policy.Window, l.clock.Now())
	if err != nil {
		// fail open: cache outage must not lock users out
		if l.logger != nil {
			l.logger.WithError(err).WithField("class", string(class)).Warn("rate limiter unavailable, allowing request")
		}
		if l.metrics != nil {
			l.metrics.RateLimitFailOpenTotal.Inc()
		}
		return Result{Allowed: true}
	}

	if !allowed && l.metrics != nil {
		l.metrics.RateLimitRejectionsTotal.WithLabelValues(string(class)).Inc()
	}
	return Result{Allowed: allowed, RetryAfter: retryAfter}
}
