package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// PermissionVersion returns the user's permission cache version. Versions
// start at 0 for users that have never been invalidated.
func (c *Client) PermissionVersion(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, permVersionPrefix+userID).Result()
	c.observe("get", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetching permission version: %w", err)
	}
	version, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing permission version: %w", err)
	}
	return version, nil
}

// BumpPermissionVersion atomically increments the user's permission cache
// version, orphaning every cached decision keyed under older versions.
func (c *Client) BumpPermissionVersion(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	version, err := c.rdb.Incr(ctx, permVersionPrefix+userID).Result()
	c.observe("incr", err)
	if err != nil {
		return 0, fmt.Errorf("bumping permission version: %w", err)
	}
	if c.metrics != nil {
		c.metrics.PermissionInvalidation.Inc()
	}
	return version, nil
}

// PermissionDecisionKey builds the versioned cache key for one decision
func PermissionDecisionKey(userID string, version int64, resource, action, tenantID, ownerID string) string {
	return fmt.Sprintf("%s%s:v%d:%s:%s:%s:%s", permEntryPrefix, userID, version, resource, action, tenantID, ownerID)
}

// GetPermissionDecision fetches a cached allow/deny decision
func (c *Client) GetPermissionDecision(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Result()
	c.observe("get", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrCacheMiss
		}
		return false, fmt.Errorf("fetching permission decision: %w", err)
	}
	return val == "1", nil
}

// PutPermissionDecision caches an allow/deny decision with the given TTL
func (c *Client) PutPermissionDecision(ctx context.Context, key string, allowed bool, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val := "0"
	if allowed {
		val = "1"
	}
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	c.observe("set", err)
	if err != nil {
		return fmt.Errorf("caching permission decision: %w", err)
	}
	return nil
}
