package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Single-use token families. The family segregates key namespaces so a
// verification token can never be replayed as a reset token.
const (
	TokenFamilyEmailVerify   = "verify"
	TokenFamilyPasswordReset = "reset"
)

func tokenKey(family, tokenHash string) string {
	return tokenKeyPrefix + family + ":" + tokenHash
}

// PutSingleUseToken stores a hashed single-use token mapping to its subject
// (the user ID) with the family's lifetime. Only hashes are stored; the
// plaintext token exists solely in the email sent to the user.
func (c *Client) PutSingleUseToken(ctx context.Context, family, tokenHash, userID string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.rdb.Set(ctx, tokenKey(family, tokenHash), userID, ttl).Err()
	c.observe("set", err)
	if err != nil {
		return fmt.Errorf("storing single-use token: %w", err)
	}
	return nil
}

// ConsumeSingleUseToken atomically fetches and deletes a single-use token,
// returning its subject. The token is burned before any validation happens
// downstream, so a token that fails later checks is still gone.
func (c *Client) ConsumeSingleUseToken(ctx context.Context, family, tokenHash string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	userID, err := c.rdb.GetDel(ctx, tokenKey(family, tokenHash)).Result()
	c.observe("getdel", err)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("consuming single-use token: %w", err)
	}
	return userID, nil
}
