package application

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

func newTestRefresher(t testing.TB, cfg *config.Config, store *CredentialStore, api domain.AuthAPI) *SessionRefresher {
	return NewSessionRefresher(newTestLogger(t), config.NewStaticProvider(cfg), store, api, nil)
}

func TestEnsureFreshToken_NoIdentifierIsNoop(t *testing.T) {
	cfg := newTestConfig("")
	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, newTestStore(t, cfg, nil, nil), api)

	require.NoError(t, r.EnsureFreshToken(context.Background()))
	assert.Zero(t, api.calls.Load())
}

func TestEnsureFreshToken_SkipsWhileFresh(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetSessionDuration(ctx, 60*time.Minute)
	store.SetIssuedAt(ctx, time.Now().Add(-10*time.Minute))

	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, store, api)

	require.NoError(t, r.EnsureFreshToken(ctx))
	assert.Zero(t, api.calls.Load())
	assert.False(t, r.NeedsRefresh(ctx))
}

func TestEnsureFreshToken_RefreshesInsideThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetSessionDuration(ctx, 60*time.Minute)
	stale := time.Now().Add(-58 * time.Minute)
	store.SetIssuedAt(ctx, stale)

	api := &fakeAuthAPI{result: domain.LoginResult{SessionDuration: 45 * time.Minute}}
	r := newTestRefresher(t, cfg, store, api)
	require.True(t, r.NeedsRefresh(ctx))

	require.NoError(t, r.EnsureFreshToken(ctx))
	assert.EqualValues(t, 1, api.calls.Load())
	assert.Equal(t, "a@example.com", api.lastUser())

	issued, ok := store.GetIssuedAt(ctx)
	require.True(t, ok)
	assert.True(t, issued.After(stale))
	d, _ := store.GetSessionDuration(ctx)
	assert.Equal(t, 45*time.Minute, d)
	assert.False(t, r.NeedsRefresh(ctx))
}

func TestEnsureFreshToken_UnknownIssueTimeRefreshes(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")

	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, store, api)
	require.NoError(t, r.EnsureFreshToken(ctx))
	assert.EqualValues(t, 1, api.calls.Load())
}

func TestEnsureFreshToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetIssuedAt(ctx, time.Now().Add(-2*time.Hour))

	api := &fakeAuthAPI{delay: 50 * time.Millisecond}
	r := newTestRefresher(t, cfg, store, api)

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.EnsureFreshToken(ctx))
		}()
	}
	wg.Wait()

	// Late arrivals see a fresh session and skip the network entirely.
	assert.EqualValues(t, 1, api.calls.Load())
}

func TestRefreshPaths_NeverOverlap(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")

	api := &fakeAuthAPI{delay: 5 * time.Millisecond}
	r := newTestRefresher(t, cfg, store, api)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				r.RefreshSession(ctx)
			case 1:
				r.LoginAsGuest(ctx)
			default:
				_ = r.EnsureFreshToken(ctx)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, api.maxInFlight.Load())
	assert.LessOrEqual(t, api.calls.Load(), int32(30))
}

func TestEnsureFreshToken_FailureIsSwallowedAndGuardReleased(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")

	api := &fakeAuthAPI{attempts: []error{domain.ErrLoginRejected}}
	r := newTestRefresher(t, cfg, store, api)

	require.NoError(t, r.EnsureFreshToken(ctx))
	_, ok := store.GetIssuedAt(ctx)
	assert.False(t, ok, "a rejected refresh must not stamp the issue time")

	require.NoError(t, r.EnsureFreshToken(ctx))
	assert.EqualValues(t, 2, api.calls.Load())
	_, ok = store.GetIssuedAt(ctx)
	assert.True(t, ok)
}

func TestEnsureFreshToken_CancelledWaiterReturnsContextError(t *testing.T) {
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(context.Background(), "a@example.com")

	release := make(chan struct{})
	api := &fakeAuthAPI{release: release}
	r := newTestRefresher(t, cfg, store, api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.EnsureFreshToken(ctx) }()

	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	// The detached refresh still completes and stamps the record.
	require.Eventually(t, func() bool {
		_, ok := store.GetIssuedAt(context.Background())
		return ok
	}, time.Second, time.Millisecond)
}

func TestRefreshSession_FallsBackToGuestIdentifier(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	cfg.Auth.FallbackIdentifier = "kiosk@example.com"
	store := newTestStore(t, cfg, nil, nil)

	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, store, api)

	assert.True(t, r.RefreshSession(ctx))
	assert.Equal(t, "kiosk@example.com", api.lastUser())
	id, ok := store.GetIdentifier(ctx)
	require.True(t, ok)
	assert.Equal(t, "kiosk@example.com", id)
}

func TestRefreshSession_ReportsFailure(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")

	api := &fakeAuthAPI{err: assert.AnError}
	r := newTestRefresher(t, cfg, store, api)
	assert.False(t, r.RefreshSession(ctx))
	assert.False(t, r.LoginAsGuest(ctx))
}

func TestSessionRefresher_BrokenStorage(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, &brokenStorage{panics: true}, nil)
	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, store, api)

	assert.NotPanics(t, func() {
		require.NoError(t, r.EnsureFreshToken(ctx))
		assert.True(t, r.RefreshSession(ctx))
	})
	// Storage is gone but the in-memory timestamp still tracks the session.
	_, ok := r.ExpiresAt(ctx)
	assert.True(t, ok)
}

func TestLogout_ClearsRecord(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	api := &fakeAuthAPI{}
	r := newTestRefresher(t, cfg, store, api)

	require.True(t, r.LoginAsGuest(ctx))
	_, ok := store.GetIdentifier(ctx)
	require.True(t, ok)

	r.Logout(ctx)
	_, ok = store.GetIdentifier(ctx)
	assert.False(t, ok)
	_, ok = r.ExpiresAt(ctx)
	assert.False(t, ok)
}

type fakeRefreshLock struct {
	acquire  bool
	unlocked atomic.Int32
	onTry    func()
	onPoll   func()
}

func (l *fakeRefreshLock) TryLock(context.Context, string, time.Duration) (bool, error) {
	if l.onTry != nil {
		l.onTry()
	}
	return l.acquire, nil
}

func (l *fakeRefreshLock) Unlock(context.Context, string) error {
	l.unlocked.Add(1)
	return nil
}

func (l *fakeRefreshLock) Locked(context.Context) (bool, error) {
	if l.onPoll != nil {
		l.onPoll()
	}
	return false, nil
}

func TestSessionRefresher_HoldsPeerLockWhileRefreshing(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")

	lock := &fakeRefreshLock{acquire: true}
	api := &fakeAuthAPI{}
	r := NewSessionRefresher(newTestLogger(t), config.NewStaticProvider(cfg), store, api, lock)

	require.NoError(t, r.EnsureFreshToken(ctx))
	assert.EqualValues(t, 1, api.calls.Load())
	assert.EqualValues(t, 1, lock.unlocked.Load())
}

func TestSessionRefresher_WaitsForPeerRefresh(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetIssuedAt(ctx, time.Now().Add(-2*time.Hour))

	lock := &fakeRefreshLock{acquire: false, onPoll: func() { store.SetIssuedNow(ctx) }}
	api := &fakeAuthAPI{}
	r := NewSessionRefresher(newTestLogger(t), config.NewStaticProvider(cfg), store, api, lock)

	assert.True(t, r.RefreshSession(ctx))
	assert.Zero(t, api.calls.Load(), "the peer did the network call")
	assert.False(t, r.NeedsRefresh(ctx))
	assert.Zero(t, lock.unlocked.Load())
}

func TestSessionRefresher_PeerFinishedBeforeLockAttempt(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("")
	store := newTestStore(t, cfg, nil, nil)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetIssuedAt(ctx, time.Now().Add(-2*time.Hour))

	// The peer stamps the session while this process is still asking for the lock.
	lock := &fakeRefreshLock{acquire: false, onTry: func() { store.SetIssuedNow(ctx) }}
	api := &fakeAuthAPI{}
	r := NewSessionRefresher(newTestLogger(t), config.NewStaticProvider(cfg), store, api, lock)

	assert.True(t, r.RefreshSession(ctx))
	assert.Zero(t, api.calls.Load())
}

func TestSessionRefresher_LoginWithoutDurationRereadsCookie(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig("https://travel.example.com")
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)
	store := newTestStore(t, cfg, nil, jar)
	store.SetIdentifier(ctx, "a@example.com")
	store.SetSessionDuration(ctx, 60*time.Minute)

	// The CMS now reports the window only through the cookie.
	origin, _ := url.Parse(cfg.CMS.BaseURL)
	jar.SetCookies(origin, []*http.Cookie{{Name: SessionDurationCookie, Value: "600", Path: "/"}})

	r := newTestRefresher(t, cfg, store, &fakeAuthAPI{})
	require.True(t, r.RefreshSession(ctx))

	d, ok := store.GetSessionDuration(ctx)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, d)
}
