// Package permission resolves authorization decisions for the five fixed
// platform roles against an in-code rule table, with a two-level decision
// cache (in-process LRU over Redis) invalidated per user by version bump.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/store"
)

const (
	// decisions stay cached for at most this long even without invalidation
	decisionTTL = 5 * time.Minute

	defaultL1Size = 4096
)

// Principal is the authenticated identity a decision is made for
type Principal struct {
	UserID   string
	Role     store.Role
	TenantID string
}

// Target identifies the resource instance being acted on. Zero values mean
// the action has no tenant or owner context (e.g. create).
type Target struct {
	TenantID string
	OwnerID  string
}

// Resolver answers permission checks
type Resolver struct {
	cache   *cache.Client
	l1      *lru.Cache[string, bool]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver. The cache client may be nil, in which case
// every check evaluates the rule table directly.
func NewResolver(c *cache.Client, logger *observability.Logger, metrics *observability.Metrics) (*Resolver, error) {
	l1, err := lru.New[string, bool](defaultL1Size)
	if err != nil {
		return nil, fmt.Errorf("creating permission L1 cache: %w", err)
	}
	return &Resolver{cache: c, l1: l1, logger: logger, metrics: metrics}, nil
}

// Check decides whether the principal may perform action on resource at
// target. Decisions are deterministic given the rule table; the cache only
// short-cuts repeated lookups. Cache failures degrade to direct evaluation.
func (r *Resolver) Check(ctx context.Context, p Principal, resource, action string, target Target) (bool, error) {
	allowed := r.check(ctx, p, resource, action, target)
	if r.metrics != nil {
		decision := "deny"
		if allowed {
			decision = "allow"
		}
		r.metrics.PermissionChecksTotal.WithLabelValues(resource, action, decision).Inc()
	}
	return allowed, nil
}

func (r *Resolver) check(ctx context.Context, p Principal, resource, action string, target Target) bool {
	// platform operators bypass the rule table entirely
	if p.Role == store.RoleSuperAdmin {
		return true
	}
	if !p.Role.Valid() {
		return false
	}

	if r.cache == nil {
		return evaluate(p, resource, action, target)
	}

	version, err := r.cache.PermissionVersion(ctx, p.UserID)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("permission version lookup failed, evaluating directly")
		}
		return evaluate(p, resource, action, target)
	}

	key := cache.PermissionDecisionKey(p.UserID, version, resource, action, target.TenantID, target.OwnerID)

	if allowed, ok := r.l1.Get(key); ok {
		r.countHit("l1")
		return allowed
	}
	r.countMiss("l1")

	if allowed, err := r.cache.GetPermissionDecision(ctx, key); err == nil {
		r.countHit("l2")
		r.l1.Add(key, allowed)
		return allowed
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		if r.logger != nil {
			r.logger.WithError(err).Warn("permission cache read failed, evaluating directly")
		}
		return evaluate(p, resource, action, target)
	}
	r.countMiss("l2")

	allowed := evaluate(p, resource, action, target)
	r.l1.Add(key, allowed)
	if err := r.cache.PutPermissionDecision(ctx, key, allowed, decisionTTL); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("permission cache write failed")
	}
	return allowed
}

// InvalidateUser discards all cached decisions for a user by bumping their
// version. Old entries become unreachable immediately in both levels because
// keys embed the version.
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) error {
	if r.cache == nil {
		return nil
	}
	if _, err := r.cache.BumpPermissionVersion(ctx, userID); err != nil {
		return fmt.Errorf("invalidating permissions for user: %w", err)
	}
	return nil
}

func evaluate(p Principal, resource, action string, target Target) bool {
	switch lookupScope(p.Role, resource, action) {
	case ScopeGlobal:
		return true
	case ScopeOwnTenant:
		return p.TenantID != "" && p.TenantID == target.TenantID
	case ScopeOwnResource:
		return target.OwnerID != "" && target.OwnerID == p.UserID
	default:
		return false
	}
}

func (r *Resolver) countHit(layer string) {
	if r.metrics != nil {
		r.metrics.PermissionCacheHits.WithLabelValues(layer).Inc()
	}
}

func (r *Resolver) countMiss(layer string) {
	if r.metrics != nil {
		r.metrics.PermissionCacheMisses.WithLabelValues(layer).Inc()
	}
}
