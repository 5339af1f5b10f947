package domain

import (
	"context"
	"time"
)

// DefaultSessionDuration is the validity window assumed when the auth endpoint never supplied one.
const DefaultSessionDuration = 60 * time.Minute

// CredentialRecord is the per-session view of what the credential store holds.
// Fields are independent: a missing duration falls back to DefaultSessionDuration
// rather than invalidating the record.
type CredentialRecord struct {
	Identifier      string        `json:"identifier,omitempty"`
	TokenIssuedAt   time.Time     `json:"token_issued_at,omitempty"`
	SessionDuration time.Duration `json:"session_duration,omitempty"`
}

// SessionStorage is the per-session key/value medium behind the credential store.
// Implementations scope every key to one session namespace and must return
// ErrStorageMiss for absent keys.
type SessionStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// RefreshLock serializes re-authentication across processes that share one session.
// In-process callers are already serialized; a nil RefreshLock is valid.
type RefreshLock interface {
	TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, owner string) error
	Locked(ctx context.Context) (bool, error)
}
