package application

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/logger"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/memory"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/crypto"
)

func newTestLogger(t testing.TB) domain.Logger {
	return logger.NewFromZap(zaptest.NewLogger(t))
}

func newTestConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	if baseURL != "" {
		cfg.CMS.BaseURL = baseURL
	}
	cfg.Retry.RetryDelayMs = 1
	return cfg
}

func newTestStore(t testing.TB, cfg *config.Config, storage domain.SessionStorage, jar http.CookieJar) *CredentialStore {
	t.Helper()
	if storage == nil {
		storage = memory.NewSessionStorage()
	}
	codec, err := crypto.NewIdentifierCodec("")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	store, err := NewCredentialStore(newTestLogger(t), config.NewStaticProvider(cfg), storage, codec, jar)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return store
}

// fakeAuthAPI counts guest logins and answers with a fixed result.
type fakeAuthAPI struct {
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu       sync.Mutex
	users    []string
	result   domain.LoginResult
	err      error
	delay    time.Duration
	release  chan struct{} // when set, GuestLogin blocks until it is closed
	attempts []error       // per-call errors, consumed in order before err applies
}

func (f *fakeAuthAPI) GuestLogin(ctx context.Context, userName string) (domain.LoginResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.users = append(f.users, userName)
	var err error
	if len(f.attempts) > 0 {
		err = f.attempts[0]
		f.attempts = f.attempts[1:]
	} else {
		err = f.err
	}
	release, delay, result := f.release, f.delay, f.result
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.LoginResult{}, err
	}
	return result, nil
}

func (f *fakeAuthAPI) lastUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.users) == 0 {
		return ""
	}
	return f.users[len(f.users)-1]
}

var errStorageDown = errors.New("storage down")

// brokenStorage fails every operation, optionally by panicking.
type brokenStorage struct {
	panics bool
}

func (b *brokenStorage) fail() error {
	if b.panics {
		panic("quota exceeded")
	}
	return errStorageDown
}

func (b *brokenStorage) Get(context.Context, string) (string, error) { return "", b.fail() }
func (b *brokenStorage) Set(context.Context, string, string) error   { return b.fail() }
func (b *brokenStorage) Delete(context.Context, ...string) error     { return b.fail() }
func (b *brokenStorage) Ping(context.Context) error                  { return b.fail() }
