package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/crypto"
	"gitlab.com/timkado/api/travel-session-client/pkg/storagekeys"
)

// SessionDurationCookie is the cookie the CMS may use to carry the validity window, in seconds.
const SessionDurationCookie = "sessionDuration"

// CredentialStore persists the credential record of one session. Every accessor is
// best effort: storage failures are logged and reported as "absent", never returned.
type CredentialStore struct {
	logger  domain.Logger
	config  config.Provider
	storage domain.SessionStorage
	codec   *crypto.IdentifierCodec
	jar     http.CookieJar
	origin  *url.URL

	// durationCache is the fast path for GetSessionDuration, in nanoseconds; 0 means unknown.
	durationCache atomic.Int64

	now func() time.Time
}

// NewCredentialStore creates a credential store over storage. jar may be nil, in which case
// the cookie fallback for the session duration is disabled.
func NewCredentialStore(logger domain.Logger, cfgProvider config.Provider, storage domain.SessionStorage, codec *crypto.IdentifierCodec, jar http.CookieJar) (*CredentialStore, error) {
	if logger == nil {
		panic("logger is nil in NewCredentialStore")
	}
	if storage == nil {
		panic("session storage is nil in NewCredentialStore")
	}
	if codec == nil {
		panic("identifier codec is nil in NewCredentialStore")
	}
	origin, err := url.Parse(cfgProvider.Get().CMS.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cms.base_url: %w", err)
	}
	return &CredentialStore{
		logger:  logger,
		config:  cfgProvider,
		storage: storage,
		codec:   codec,
		jar:     jar,
		origin:  origin,
		now:     time.Now,
	}, nil
}

// read wraps a storage Get so that neither errors nor panics escape.
func (s *CredentialStore) read(ctx context.Context, field string) (val string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(ctx, "Session storage panicked on read", "field", field, "panic_info", fmt.Sprintf("%v", r))
			metrics.IncrementStorageError("get")
			val, ok = "", false
		}
	}()
	v, err := s.storage.Get(ctx, field)
	if err != nil {
		if !errors.Is(err, domain.ErrStorageMiss) {
			s.logger.Warn(ctx, "Session storage read failed; treating as absent", "field", field, "error", err.Error())
			metrics.IncrementStorageError("get")
		}
		return "", false
	}
	return v, true
}

// write wraps a storage Set so that neither errors nor panics escape.
func (s *CredentialStore) write(ctx context.Context, field, value string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(ctx, "Session storage panicked on write", "field", field, "panic_info", fmt.Sprintf("%v", r))
			metrics.IncrementStorageError("set")
		}
	}()
	if err := s.storage.Set(ctx, field, value); err != nil {
		s.logger.Warn(ctx, "Session storage write failed; ignoring", "field", field, "error", err.Error())
		metrics.IncrementStorageError("set")
	}
}

// GetIdentifier returns the decoded user identifier, or false when it is absent or unreadable.
func (s *CredentialStore) GetIdentifier(ctx context.Context) (string, bool) {
	encoded, ok := s.read(ctx, storagekeys.Identifier)
	if !ok || encoded == "" {
		return "", false
	}
	id, err := s.codec.Decode(encoded)
	if err != nil {
		s.logger.Warn(ctx, "Stored identifier could not be decoded; treating as absent", "error", err.Error())
		return "", false
	}
	return id, true
}

// SetIdentifier encodes and stores the user identifier.
func (s *CredentialStore) SetIdentifier(ctx context.Context, id string) {
	encoded, err := s.codec.Encode(id)
	if err != nil {
		s.logger.Warn(ctx, "Failed to encode identifier; not stored", "error", err.Error())
		return
	}
	s.write(ctx, storagekeys.Identifier, encoded)
}

// GetIssuedAt returns when the token was last (re)issued.
func (s *CredentialStore) GetIssuedAt(ctx context.Context) (time.Time, bool) {
	raw, ok := s.read(ctx, storagekeys.TokenIssuedAt)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		s.logger.Warn(ctx, "Stored token timestamp is malformed; treating as absent", "value", raw)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SetIssuedAt stores t as the token issue time, in epoch milliseconds.
func (s *CredentialStore) SetIssuedAt(ctx context.Context, t time.Time) {
	s.write(ctx, storagekeys.TokenIssuedAt, strconv.FormatInt(t.UnixMilli(), 10))
}

// SetIssuedNow stamps the current time as the token issue time.
func (s *CredentialStore) SetIssuedNow(ctx context.Context) {
	s.SetIssuedAt(ctx, s.now())
}

// GetSessionDuration looks the validity window up in the in-memory cache, then in session
// storage, then in the sessionDuration cookie of the CMS origin (seconds).
func (s *CredentialStore) GetSessionDuration(ctx context.Context) (time.Duration, bool) {
	if cached := s.durationCache.Load(); cached > 0 {
		return time.Duration(cached), true
	}

	if raw, ok := s.read(ctx, storagekeys.SessionDuration); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			d := time.Duration(ms) * time.Millisecond
			s.durationCache.Store(int64(d))
			return d, true
		}
		s.logger.Warn(ctx, "Stored session duration is malformed; ignoring", "value", raw)
	}

	if d, ok := s.durationFromCookie(ctx); ok {
		s.durationCache.Store(int64(d))
		return d, true
	}
	return 0, false
}

func (s *CredentialStore) durationFromCookie(ctx context.Context) (time.Duration, bool) {
	if s.jar == nil || s.origin == nil {
		return 0, false
	}
	for _, c := range s.jar.Cookies(s.origin) {
		if c.Name != SessionDurationCookie {
			continue
		}
		seconds, err := strconv.ParseFloat(c.Value, 64)
		if err != nil || seconds <= 0 {
			s.logger.Debug(ctx, "Ignoring malformed sessionDuration cookie", "value", c.Value)
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	return 0, false
}

// SetSessionDuration records the validity window in memory and in session storage.
func (s *CredentialStore) SetSessionDuration(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	s.durationCache.Store(int64(d))
	s.write(ctx, storagekeys.SessionDuration, strconv.FormatInt(d.Milliseconds(), 10))
}

// SessionDurationOrDefault returns the known validity window or the configured default.
func (s *CredentialStore) SessionDurationOrDefault(ctx context.Context) time.Duration {
	if d, ok := s.GetSessionDuration(ctx); ok {
		return d
	}
	if d := s.config.Get().DefaultSessionDuration(); d > 0 {
		return d
	}
	return domain.DefaultSessionDuration
}

// Record returns a snapshot of everything the store knows.
func (s *CredentialStore) Record(ctx context.Context) domain.CredentialRecord {
	var rec domain.CredentialRecord
	rec.Identifier, _ = s.GetIdentifier(ctx)
	rec.TokenIssuedAt, _ = s.GetIssuedAt(ctx)
	rec.SessionDuration, _ = s.GetSessionDuration(ctx)
	return rec
}

// remove wraps a storage Delete so that neither errors nor panics escape.
func (s *CredentialStore) remove(ctx context.Context, fields ...string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(ctx, "Session storage panicked on delete", "fields", fields, "panic_info", fmt.Sprintf("%v", r))
			metrics.IncrementStorageError("delete")
		}
	}()
	if err := s.storage.Delete(ctx, fields...); err != nil {
		s.logger.Warn(ctx, "Session storage delete failed; ignoring", "fields", fields, "error", err.Error())
		metrics.IncrementStorageError("delete")
	}
}

// ResetSessionDuration forgets the recorded validity window so the next lookup falls
// through to the cookie or the default.
func (s *CredentialStore) ResetSessionDuration(ctx context.Context) {
	s.durationCache.Store(0)
	s.remove(ctx, storagekeys.SessionDuration)
}

// Clear destroys the credential record.
func (s *CredentialStore) Clear(ctx context.Context) {
	s.durationCache.Store(0)
	s.remove(ctx, storagekeys.Identifier, storagekeys.TokenIssuedAt, storagekeys.SessionDuration)
}
