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

// SessionStorageAdapter implements domain.SessionStorage on Redis. Every key lives
// under the namespace of one session ID and expires after ttl, so an abandoned
// session disappears the way a closed tab's session storage does.
type SessionStorageAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
	sessionID   string
	ttl         time.Duration
}

// NewSessionStorageAdapter creates a new instance of SessionStorageAdapter.
func NewSessionStorageAdapter(redisClient *redis.Client, logger domain.Logger, sessionID string, ttl time.Duration) *SessionStorageAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewSessionStorageAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewSessionStorageAdapter")
	}
	return &SessionStorageAdapter{
		redisClient: redisClient,
		logger:      logger,
		sessionID:   sessionID,
		ttl:         ttl,
	}
}

func (a *SessionStorageAdapter) key(field string) string {
	return storagekeys.SessionField(a.sessionID, field)
}

// Get reads one field of the session. Absent keys map to domain.ErrStorageMiss.
func (a *SessionStorageAdapter) Get(ctx context.Context, field string) (string, error) {
	key := a.key(field)
	val, err := a.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		a.logger.Debug(ctx, "Session storage miss", "key", key)
		return "", domain.ErrStorageMiss
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to read session field from Redis", "key", key, "error", err.Error())
		return "", fmt.Errorf("%w: redis GET for key '%s' failed: %v", domain.ErrStorageUnavailable, key, err)
	}
	return val, nil
}

// Set writes one field of the session and refreshes its expiry.
func (a *SessionStorageAdapter) Set(ctx context.Context, field string, value string) error {
	key := a.key(field)
	if err := a.redisClient.Set(ctx, key, value, a.ttl).Err(); err != nil {
		a.logger.Error(ctx, "Failed to write session field to Redis", "key", key, "error", err.Error())
		return fmt.Errorf("%w: redis SET for key '%s' failed: %v", domain.ErrStorageUnavailable, key, err)
	}
	a.logger.Debug(ctx, "Stored session field", "key", key, "ttl", a.ttl.String())
	return nil
}

// Delete removes the given fields of the session.
func (a *SessionStorageAdapter) Delete(ctx context.Context, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, a.key(f))
	}
	if err := a.redisClient.Del(ctx, keys...).Err(); err != nil {
		a.logger.Error(ctx, "Failed to delete session fields from Redis", "keys", keys, "error", err.Error())
		return fmt.Errorf("%w: redis DEL failed: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Ping checks that Redis answers.
func (a *SessionStorageAdapter) Ping(ctx context.Context) error {
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}
