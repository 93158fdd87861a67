package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventgate/backend/internal/clock"
)

const revokedKeyPrefix = "eventgate:revoked:"

// Revoker keeps the set of token ids that must no longer authenticate.
// Entries only need to live until the token would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevoker is a process-local Revoker for single-instance deployments.
type MemoryRevoker struct {
	clock clock.Clock

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewMemoryRevoker creates an empty in-memory revocation set.
func NewMemoryRevoker(clk clock.Clock) *MemoryRevoker {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryRevoker{clock: clk, revoked: make(map[string]time.Time)}
}

// Revoke adds tokenID and drops entries that have outlived their token.
func (r *MemoryRevoker) Revoke(_ context.Context, tokenID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for id, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, id)
		}
	}
	if until.After(now) {
		r.revoked[tokenID] = until
	}
	return nil
}

// Revoked reports whether tokenID was revoked.
func (r *MemoryRevoker) Revoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[tokenID]
	return ok && exp.After(r.clock.Now()), nil
}

// RedisRevoker shares revocations across instances with expiring keys.
type RedisRevoker struct {
	client *redis.Client
	clock  clock.Clock
}

// NewRedisRevoker creates a Redis-backed Revoker.
func NewRedisRevoker(client *redis.Client, clk clock.Clock) *RedisRevoker {
	if clk == nil {
		clk = clock.Real()
	}
	return &RedisRevoker{client: client, clock: clk}
}

// Revoke stores tokenID until the token's own expiry.
func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Revoked reports whether tokenID was revoked.
func (r *RedisRevoker) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
