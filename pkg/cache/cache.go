// Package cache is the Redis-backed hot path: session mirrors, the token
// blacklist, single-use token families, the permission cache, and
// sliding-window rate limit state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paddleraise/authcore/pkg/observability"
)

// ErrCacheMiss is returned when a requested key does not exist
var ErrCacheMiss = errors.New("cache miss")

// Key prefixes. Session keys embed the user ID so all of a user's sessions
// can be swept with one SCAN.
const (
	sessionKeyPrefix   = "session:"
	blacklistKeyPrefix = "blacklist:"
	permVersionPrefix  = "permver:"
	permEntryPrefix    = "perm:"
	ratelimitPrefix    = "ratelimit:"
	tokenKeyPrefix     = "token:"
)

// Config holds Redis connection settings
type Config struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	OpTimeout  time.Duration
}

// Client wraps the Redis client with the auth-domain operations
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Connect opens a Redis connection and verifies it with a ping
func Connect(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.URL,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewClient creates a cache client. A zero timeout defaults to 3s; metrics
// may be nil.
func NewClient(rdb *redis.Client, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Client {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Client{rdb: rdb, timeout: timeout, logger: logger, metrics: metrics}
}

// Redis exposes the underlying client for health checks
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) observe(command string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
		c.metrics.CacheErrorsTotal.WithLabelValues(command).Inc()
	}
	c.metrics.CacheCommandsTotal.WithLabelValues(command, status).Inc()
}

// SessionRecord is the hot-path mirror of a session. AccessJTI tracks the
// most recently issued access token so revoking the session can blacklist it.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id,omitempty"`
	AccessJTI string    `json:"access_jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func sessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

// PutSession stores a session record with the given TTL
func (c *Client) PutSession(ctx context.Context, rec *SessionRecord, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	err = c.rdb.Set(ctx, sessionKey(rec.UserID, rec.SessionID), payload, ttl).Err()
	c.observe("set", err)
	if err != nil {
		return fmt.Errorf("storing session record: %w", err)
	}
	return nil
}

// GetSession fetches a session record without consuming it
func (c *Client) GetSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := c.rdb.Get(ctx, sessionKey(userID, sessionID)).Bytes()
	c.observe("get", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session record: %w", err)
	}
	return unmarshalSession(payload)
}

// ClaimSession atomically fetches and deletes a session record. Exactly one
// concurrent caller wins; the rest get ErrCacheMiss. This is what makes
// refresh rotation single-use.
func (c *Client) ClaimSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := c.rdb.GetDel(ctx, sessionKey(userID, sessionID)).Bytes()
	c.observe("getdel", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("claiming session record: %w", err)
	}
	return unmarshalSession(payload)
}

// DeleteSession removes a session record. Missing keys are not an error.
func (c *Client) DeleteSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.rdb.Del(ctx, sessionKey(userID, sessionID)).Err()
	c.observe("del", err)
	if err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}
	return nil
}

// DeleteUserSessions removes all of a user's session records except
// exceptID (empty removes all). Returns the removed session IDs.
func (c *Client) DeleteUserSessions(ctx context.Context, userID, exceptID string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pattern := sessionKeyPrefix + userID + ":*"
	keep := sessionKey(userID, exceptID)

	var removed []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if exceptID != "" && key == keep {
			continue
		}
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			c.observe("del", err)
			return removed, fmt.Errorf("deleting session record: %w", err)
		}
		removed = append(removed, key[len(sessionKeyPrefix+userID+":"):])
	}
	if err := iter.Err(); err != nil {
		c.observe("scan", err)
		return removed, fmt.Errorf("scanning session records: %w", err)
	}
	c.observe("scan", nil)
	return removed, nil
}

func unmarshalSession(payload []byte) (*SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling session record: %w", err)
	}
	return &rec, nil
}

// BlacklistToken marks a jti revoked for the given TTL. The TTL matches the
// token's remaining lifetime; after that the exp claim alone rejects it.
func (c *Client) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.rdb.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err()
	c.observe("set", err)
	if err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks whether a jti has been revoked. Errors are
// returned to the caller, which must treat them as "blacklisted" (fail
// closed).
func (c *Client) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.rdb.Exists(ctx, blacklistKeyPrefix+jti).Result()
	c.observe("exists", err)
	if err != nil {
		return false, fmt.Errorf("checking token blacklist: %w", err)
	}
	return n > 0, nil
}
