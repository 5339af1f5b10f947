package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/storagekeys"
)

// releaseScript deletes the lock only when it is still held by the caller.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RefreshLockAdapter implements domain.RefreshLock with SET NX so that processes sharing
// one Redis session namespace never re-authenticate at the same time.
type RefreshLockAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
	key         string
}

// NewRefreshLockAdapter creates the refresh lock of sessionID.
func NewRefreshLockAdapter(redisClient *redis.Client, logger domain.Logger, sessionID string) *RefreshLockAdapter {
	if redisClient == nil {
		panic("redis client is nil in NewRefreshLockAdapter")
	}
	return &RefreshLockAdapter{
		redisClient: redisClient,
		logger:      logger,
		key:         storagekeys.SessionField(sessionID, storagekeys.RefreshLock),
	}
}

// TryLock attempts to take the lock for owner, expiring after ttl.
func (a *RefreshLockAdapter) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	acquired, err := a.redisClient.SetNX(ctx, a.key, owner, ttl).Result()
	if err != nil {
		a.logger.Error(ctx, "Redis SETNX failed", "key", a.key, "error", err.Error())
		return false, fmt.Errorf("redis SETNX for key '%s' failed: %w", a.key, err)
	}
	if !acquired {
		holder, getErr := a.redisClient.Get(ctx, a.key).Result()
		if getErr == nil {
			a.logger.Debug(ctx, "Refresh lock held by another process", "key", a.key, "current_holder", holder)
		}
	}
	return acquired, nil
}

// Unlock releases the lock if owner still holds it.
func (a *RefreshLockAdapter) Unlock(ctx context.Context, owner string) error {
	result, err := a.redisClient.Eval(ctx, releaseScript, []string{a.key}, owner).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		a.logger.Error(ctx, "Redis EVAL (release script) failed", "key", a.key, "error", err.Error())
		return fmt.Errorf("redis EVAL for release on key '%s' failed: %w", a.key, err)
	}
	if result != 1 {
		a.logger.Debug(ctx, "Refresh lock already expired or taken over", "key", a.key)
	}
	return nil
}

// Locked reports whether any process currently holds the lock.
func (a *RefreshLockAdapter) Locked(ctx context.Context) (bool, error) {
	n, err := a.redisClient.Exists(ctx, a.key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS for key '%s' failed: %w", a.key, err)
	}
	return n > 0, nil
}
