package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// refreshGuardKey is shared by every refresh path so that at most one call to the
// auth endpoint is in flight at any time.
const refreshGuardKey = "session-refresh"

const (
	defaultRefreshTimeout = 15 * time.Second
	peerPollInterval      = 100 * time.Millisecond
)

// Refresh triggers, used as metric labels and log fields.
const (
	triggerEnsureFresh = "ensure_fresh"
	triggerRetry       = "retry"
	triggerGuest       = "guest_login"
)

// SessionRefresher re-authenticates against the CMS and keeps the credential store current.
// Concurrent callers attach to the single pending refresh instead of starting their own.
type SessionRefresher struct {
	logger  domain.Logger
	config  config.Provider
	store   *CredentialStore
	authAPI domain.AuthAPI

	guard singleflight.Group

	// lock is optional; owner identifies this process while holding it.
	lock  domain.RefreshLock
	owner string

	// lastIssued is the in-memory copy of the last successful (re)authentication, unix nanos.
	lastIssued atomic.Int64

	now func() time.Time
}

// NewSessionRefresher creates a new SessionRefresher. lock may be nil when no other process
// shares the session.
func NewSessionRefresher(logger domain.Logger, cfgProvider config.Provider, store *CredentialStore, authAPI domain.AuthAPI, lock domain.RefreshLock) *SessionRefresher {
	if logger == nil {
		panic("logger is nil in NewSessionRefresher")
	}
	if store == nil {
		panic("credential store is nil in NewSessionRefresher")
	}
	if authAPI == nil {
		panic("auth api is nil in NewSessionRefresher")
	}
	return &SessionRefresher{
		logger:  logger,
		config:  cfgProvider,
		store:   store,
		authAPI: authAPI,
		lock:    lock,
		owner:   uuid.NewString(),
		now:     time.Now,
	}
}

func (r *SessionRefresher) refreshTimeout() time.Duration {
	if d := time.Duration(r.config.Get().Auth.RefreshTimeoutSeconds) * time.Second; d > 0 {
		return d
	}
	return defaultRefreshTimeout
}

// guarded runs fn as the pending refresh, or attaches to the one already pending.
// fn runs detached from the caller's cancellation so that one impatient caller cannot fail
// the refresh for everybody attached to it. The guard is released as soon as fn returns.
func (r *SessionRefresher) guarded(ctx context.Context, trigger string, fn func(context.Context) bool) (bool, error) {
	ch := r.guard.DoChan(refreshGuardKey, func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout())
		defer cancel()
		return fn(opCtx), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug(ctx, "Attached to pending session refresh", "trigger", trigger)
		}
		ok, _ := res.Val.(bool)
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// EnsureFreshToken refreshes the session when it is within the refresh threshold of expiry.
// It is a no-op when no identifier is stored or the session is still comfortably valid.
// Refresh failures are logged, never returned; the only error is the caller's ctx error.
func (r *SessionRefresher) EnsureFreshToken(ctx context.Context) error {
	_, err := r.guarded(ctx, triggerEnsureFresh, r.ensureFresh)
	return err
}

func (r *SessionRefresher) ensureFresh(ctx context.Context) bool {
	identifier, ok := r.store.GetIdentifier(ctx)
	if !ok {
		r.logger.Debug(ctx, "No stored identifier; nothing to refresh")
		metrics.IncrementRefresh(triggerEnsureFresh, "skipped_no_identifier")
		return false
	}

	if remaining, known := r.remaining(ctx); known && remaining > r.config.Get().RefreshThreshold() {
		r.logger.Debug(ctx, "Session still fresh; skipping refresh", "remaining", remaining.String())
		metrics.IncrementRefresh(triggerEnsureFresh, "skipped_fresh")
		return true
	}

	return r.login(ctx, triggerEnsureFresh, identifier, false)
}

// RefreshSession unconditionally re-authenticates and reports whether it worked.
// It uses the stored identifier, or the fallback guest identifier when none is stored.
func (r *SessionRefresher) RefreshSession(ctx context.Context) bool {
	ok, err := r.guarded(ctx, triggerRetry, func(opCtx context.Context) bool {
		identifier, stored := r.store.GetIdentifier(opCtx)
		if !stored {
			identifier = r.config.Get().Auth.FallbackIdentifier
		}
		if identifier == "" {
			r.logger.Warn(opCtx, "No identifier available for session refresh")
			metrics.IncrementRefresh(triggerRetry, "skipped_no_identifier")
			return false
		}
		return r.login(opCtx, triggerRetry, identifier, !stored)
	})
	if err != nil {
		r.logger.Debug(ctx, "Stopped waiting for session refresh", "error", err.Error())
		return false
	}
	return ok
}

// LoginAsGuest authenticates with the fixed fallback identifier and stores it on success.
func (r *SessionRefresher) LoginAsGuest(ctx context.Context) bool {
	ok, err := r.guarded(ctx, triggerGuest, func(opCtx context.Context) bool {
		identifier := r.config.Get().Auth.FallbackIdentifier
		if identifier == "" {
			r.logger.Warn(opCtx, "auth.fallback_identifier is not configured; guest login impossible")
			metrics.IncrementRefresh(triggerGuest, "skipped_no_identifier")
			return false
		}
		return r.login(opCtx, triggerGuest, identifier, true)
	})
	if err != nil {
		return false
	}
	return ok
}

// login calls the auth endpoint under the cross-process lock.
func (r *SessionRefresher) login(ctx context.Context, trigger, identifier string, persistIdentifier bool) bool {
	return r.underPeerLock(ctx, trigger, func() bool {
		return r.doLogin(ctx, trigger, identifier, persistIdentifier)
	})
}

// underPeerLock runs call while holding the refresh lock. When another process holds it, the
// call is skipped and the result is whether that process refreshed the shared session.
func (r *SessionRefresher) underPeerLock(ctx context.Context, trigger string, call func() bool) bool {
	if r.lock == nil {
		return call()
	}
	// Read before trying the lock: a peer may finish its refresh in between.
	before, _ := r.store.GetIssuedAt(ctx)
	acquired, err := r.lock.TryLock(ctx, r.owner, r.refreshTimeout())
	if err != nil {
		r.logger.Warn(ctx, "Refresh lock unavailable; refreshing without it", "error", err.Error())
		return call()
	}
	if acquired {
		defer func() {
			if err := r.lock.Unlock(context.WithoutCancel(ctx), r.owner); err != nil {
				r.logger.Warn(ctx, "Failed to release refresh lock", "error", err.Error())
			}
		}()
		return call()
	}

	r.logger.Debug(ctx, "Another process is refreshing the shared session; waiting", "trigger", trigger)
	metrics.IncrementRefresh(trigger, "peer")
	if !r.waitForPeer(ctx) {
		return false
	}
	after, ok := r.store.GetIssuedAt(ctx)
	return ok && after.After(before)
}

func (r *SessionRefresher) waitForPeer(ctx context.Context) bool {
	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			locked, err := r.lock.Locked(ctx)
			if err != nil {
				return false
			}
			if !locked {
				return true
			}
		}
	}
}

// doLogin calls the auth endpoint and records the outcome in the credential store.
func (r *SessionRefresher) doLogin(ctx context.Context, trigger, identifier string, persistIdentifier bool) bool {
	result, err := r.authAPI.GuestLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrLoginRejected) {
			r.logger.Warn(ctx, "Session refresh rejected by auth endpoint", "trigger", trigger, "error", err.Error())
			metrics.IncrementRefresh(trigger, "rejected")
		} else {
			r.logger.Error(ctx, "Session refresh call failed", "trigger", trigger, "error", err.Error())
			metrics.IncrementRefresh(trigger, "error")
		}
		return false
	}

	if result.SessionDuration > 0 {
		r.store.SetSessionDuration(ctx, result.SessionDuration)
	} else {
		// The new window, if any, arrived as a cookie.
		r.store.ResetSessionDuration(ctx)
	}
	if persistIdentifier {
		r.store.SetIdentifier(ctx, identifier)
	}
	issued := r.now()
	r.store.SetIssuedAt(ctx, issued)
	r.lastIssued.Store(issued.UnixNano())

	r.logger.Info(ctx, "Session refreshed", "trigger", trigger, "session_duration", result.SessionDuration.String())
	metrics.IncrementRefresh(trigger, "success")
	return true
}

// issuedAt is the later of the in-memory timestamp and the stored one; a process sharing
// the session may have refreshed it.
func (r *SessionRefresher) issuedAt(ctx context.Context) (time.Time, bool) {
	stored, ok := r.store.GetIssuedAt(ctx)
	if ns := r.lastIssued.Load(); ns > 0 {
		if mem := time.Unix(0, ns); !ok || mem.After(stored) {
			return mem, true
		}
	}
	return stored, ok
}

// remaining is sessionDuration - (now - issuedAt); false when issuedAt is unknown.
func (r *SessionRefresher) remaining(ctx context.Context) (time.Duration, bool) {
	issued, ok := r.issuedAt(ctx)
	if !ok {
		return 0, false
	}
	return r.store.SessionDurationOrDefault(ctx) - r.now().Sub(issued), true
}

// NeedsRefresh reports whether EnsureFreshToken would call the auth endpoint right now.
func (r *SessionRefresher) NeedsRefresh(ctx context.Context) bool {
	if _, ok := r.store.GetIdentifier(ctx); !ok {
		return false
	}
	remaining, known := r.remaining(ctx)
	return !known || remaining <= r.config.Get().RefreshThreshold()
}

// ExpiresAt returns when the current session is expected to lapse.
func (r *SessionRefresher) ExpiresAt(ctx context.Context) (time.Time, bool) {
	issued, ok := r.issuedAt(ctx)
	if !ok {
		return time.Time{}, false
	}
	return issued.Add(r.store.SessionDurationOrDefault(ctx)), true
}

// Logout destroys the credential record and forgets the in-memory timestamp.
func (r *SessionRefresher) Logout(ctx context.Context) {
	r.lastIssued.Store(0)
	r.store.Clear(ctx)
	r.logger.Info(ctx, "Credential record cleared")
}
