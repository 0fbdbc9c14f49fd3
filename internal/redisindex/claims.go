package redisindex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims is a Redis-backed fingerprint set. A claim is a key created with
// SETNX, so exactly one process wins each fingerprint.
type Claims struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owner  string
}

// NewClaims creates a claim set. owner is stored as the key value for
// operators inspecting Redis; ttl of zero keeps claims forever.
func NewClaims(client redis.UniversalClient, cfg Config, owner string) *Claims {
	cfg = cfg.WithDefaults()
	return &Claims{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.ClaimTTL,
		owner:  owner,
	}
}

func (c *Claims) key(fp string) string {
	return c.prefix + fp
}

// Exists reports whether fp has been claimed.
func (c *Claims) Exists(ctx context.Context, fp string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", fp, err)
	}
	return n > 0, nil
}

// Claim creates the claim for fp and reports whether this call won it.
func (c *Claims) Claim(ctx context.Context, fp string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(fp), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", fp, err)
	}
	return ok, nil
}

// Release deletes the claim for fp.
func (c *Claims) Release(ctx context.Context, fp string) error {
	if err := c.client.Del(ctx, c.key(fp)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", fp, err)
	}
	return nil
}
