package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SlidingWindowAllow implements a sliding-window counter over a sorted set.
// Entries are scored by unix-milli timestamp (nanos would lose precision in
// the float64 score); stale entries are pruned, the survivors counted, and
// the request recorded only when under the limit. When denied, retryAfter
// reports when the oldest surviving entry leaves the window.
func (c *Client) SlidingWindowAllow(ctx context.Context, key string, max int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	fullKey := ratelimitPrefix + key
	windowStart := now.Add(-window)

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		c.observe("zcard", err)
		return false, 0, fmt.Errorf("counting rate limit window: %w", err)
	}
	c.observe("zcard", nil)

	if countCmd.Val() >= int64(max) {
		retryAfter := window
		oldest, err := c.rdb.ZRangeWithScores(ctx, fullKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestAt := time.UnixMilli(int64(oldest[0].Score))
			retryAfter = oldestAt.Add(window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return false, retryAfter, nil
	}

	// member must be unique so simultaneous requests all count
	pipe = c.rdb.TxPipeline()
	pipe.ZAdd(ctx, fullKey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		c.observe("zadd", err)
		return false, 0, fmt.Errorf("recording rate limit entry: %w", err)
	}
	c.observe("zadd", nil)

	return true, 0, nil
}
