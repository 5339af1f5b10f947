package application

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/safego"
)

const defaultMonitorInterval = 60 * time.Second

// PageContext is the auth view shared with every page.
type PageContext struct {
	State                domain.AuthState           `json:"state"`
	IsAuthenticated      bool                       `json:"isAuthenticated"`
	InitialAuthCheckDone bool                       `json:"initialAuthCheckDone"`
	Loading              bool                       `json:"loading"`
	LastError            string                     `json:"lastError,omitempty"`
	Pages                map[string]domain.PageInfo `json:"pages,omitempty"`
	CheckedAt            time.Time                  `json:"checkedAt,omitempty"`
}

// GateRefresher is the part of SessionRefresher the auth gate depends on.
type GateRefresher interface {
	EnsureFreshToken(ctx context.Context) error
	LoginAsGuest(ctx context.Context) bool
	NeedsRefresh(ctx context.Context) bool
	Logout(ctx context.Context)
}

// AuthGate owns the page-level auth state machine:
//
//	Checking -> Authenticated | Unauthenticated | Error
//	Error -> (re-check) -> any
//
// A failed check due to credentials gets exactly one guest login per mount (see Reset).
type AuthGate struct {
	logger    domain.Logger
	config    config.Provider
	refresher GateRefresher
	pages     domain.PageDirectory
	publisher domain.AuthEventPublisher
	sessionID string

	// checkMu serializes checks and monitor ticks.
	checkMu sync.Mutex

	mu             sync.RWMutex
	state          domain.AuthState
	authenticated  bool
	initialDone    bool
	loading        bool
	lastErr        string
	pageIndex      map[string]domain.PageInfo
	checkedAt      time.Time
	guestAttempted bool

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	monitorDone <-chan struct{}

	now func() time.Time
}

// NewAuthGate creates a new AuthGate in the Checking state.
func NewAuthGate(
	logger domain.Logger,
	cfgProvider config.Provider,
	refresher GateRefresher,
	pages domain.PageDirectory,
	publisher domain.AuthEventPublisher,
	sessionID string,
) *AuthGate {
	if logger == nil {
		panic("logger is nil in NewAuthGate")
	}
	if refresher == nil {
		panic("refresher is nil in NewAuthGate")
	}
	if pages == nil {
		panic("page directory is nil in NewAuthGate")
	}
	if publisher == nil {
		panic("auth event publisher is nil in NewAuthGate")
	}
	metrics.SetAuthState(domain.AuthStateChecking.String())
	return &AuthGate{
		logger:    logger,
		config:    cfgProvider,
		refresher: refresher,
		pages:     pages,
		publisher: publisher,
		sessionID: sessionID,
		state:     domain.AuthStateChecking,
		now:       time.Now,
	}
}

// Check probes the protected page directory and settles the auth state.
func (g *AuthGate) Check(ctx context.Context) domain.AuthState {
	g.checkMu.Lock()
	defer g.checkMu.Unlock()
	return g.check(ctx, false)
}

// check must be called with checkMu held. With tolerateErrors, non-auth failures are
// logged and leave the state alone. The gate's single guest login is the only recovery for
// its probes, so they bypass the fetch retry.
func (g *AuthGate) check(ctx context.Context, tolerateErrors bool) domain.AuthState {
	ctx = WithoutFetchRetry(ctx)
	g.setLoading(true)
	defer g.setLoading(false)

	pages, err := g.pages.FetchPages(ctx)
	switch {
	case err == nil:
		return g.succeed(ctx, pages, "page directory loaded")
	case errors.Is(err, domain.ErrUnauthorized):
		return g.recoverWithGuest(ctx, err)
	case ctx.Err() != nil:
		g.logger.Debug(ctx, "Auth check abandoned", "error", ctx.Err().Error())
		return g.State()
	case tolerateErrors:
		g.logger.Warn(ctx, "Page directory refresh failed; keeping current auth state", "error", err.Error())
		return g.State()
	default:
		return g.fail(ctx, err)
	}
}

// recoverWithGuest spends the per-mount guest login budget and retries the probe once.
func (g *AuthGate) recoverWithGuest(ctx context.Context, cause error) domain.AuthState {
	g.mu.Lock()
	attempted := g.guestAttempted
	g.guestAttempted = true
	g.mu.Unlock()

	if attempted {
		g.logger.Info(ctx, "Credentials rejected and guest login already attempted", "error", cause.Error())
		return g.reject(ctx, "guest login already attempted")
	}

	g.logger.Info(ctx, "Credentials rejected; attempting guest login", "error", cause.Error())
	if !g.refresher.LoginAsGuest(ctx) {
		return g.reject(ctx, "guest login failed")
	}

	pages, err := g.pages.FetchPages(ctx)
	if err != nil {
		g.logger.Warn(ctx, "Page directory still unavailable after guest login", "error", err.Error())
		return g.reject(ctx, "retry after guest login failed")
	}
	return g.succeed(ctx, pages, "guest login")
}

func (g *AuthGate) succeed(ctx context.Context, pages map[string]domain.PageInfo, reason string) domain.AuthState {
	g.mu.Lock()
	g.authenticated = true
	g.initialDone = true
	g.lastErr = ""
	g.pageIndex = pages
	g.checkedAt = g.now()
	g.mu.Unlock()
	return g.transition(ctx, domain.AuthStateAuthenticated, reason)
}

// reject is terminal for this mount: the credential record is destroyed.
func (g *AuthGate) reject(ctx context.Context, reason string) domain.AuthState {
	g.refresher.Logout(ctx)
	g.mu.Lock()
	g.authenticated = false
	g.initialDone = true
	g.lastErr = reason
	g.pageIndex = nil
	g.checkedAt = g.now()
	g.mu.Unlock()
	return g.transition(ctx, domain.AuthStateUnauthenticated, reason)
}

// fail records a non-auth failure; the last known authenticated flag is kept.
func (g *AuthGate) fail(ctx context.Context, err error) domain.AuthState {
	g.logger.Warn(ctx, "Auth check failed", "error", err.Error())
	g.mu.Lock()
	g.initialDone = true
	g.lastErr = err.Error()
	g.checkedAt = g.now()
	g.mu.Unlock()
	return g.transition(ctx, domain.AuthStateError, "page directory unavailable")
}

func (g *AuthGate) transition(ctx context.Context, to domain.AuthState, reason string) domain.AuthState {
	g.mu.Lock()
	from := g.state
	g.state = to
	g.mu.Unlock()

	metrics.SetAuthState(to.String())
	if from == to {
		return to
	}

	g.logger.Info(ctx, "Auth state changed", "from", from.String(), "to", to.String(), "reason", reason)
	change := domain.AuthStateChange{
		SessionID: g.sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		At:        g.now().UTC(),
	}
	if err := g.publisher.PublishAuthStateChange(ctx, change); err != nil {
		g.logger.Warn(ctx, "Failed to publish auth state change", "to", to.String(), "error", err.Error())
	}
	return to
}

func (g *AuthGate) setLoading(v bool) {
	g.mu.Lock()
	g.loading = v
	g.mu.Unlock()
}

// State returns the current auth state.
func (g *AuthGate) State() domain.AuthState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Snapshot returns a copy of the page context.
func (g *AuthGate) Snapshot() PageContext {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return PageContext{
		State:                g.state,
		IsAuthenticated:      g.authenticated,
		InitialAuthCheckDone: g.initialDone,
		Loading:              g.loading,
		LastError:            g.lastErr,
		Pages:                maps.Clone(g.pageIndex),
		CheckedAt:            g.checkedAt,
	}
}

// GetPageInfo returns the directory entry for pageType.
func (g *AuthGate) GetPageInfo(pageType string) (domain.PageInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.pageIndex[pageType]
	return info, ok
}

// GetPageIDWithFallback returns the page ID for pageType, or fallback when it is unknown.
func (g *AuthGate) GetPageIDWithFallback(pageType, fallback string) string {
	if info, ok := g.GetPageInfo(pageType); ok && info.ID != "" {
		return info.ID
	}
	return fallback
}

// OnVisibilityChange re-checks when the page becomes visible again without a valid session.
func (g *AuthGate) OnVisibilityChange(ctx context.Context) domain.AuthState {
	if state := g.State(); state == domain.AuthStateAuthenticated {
		return state
	}
	return g.Check(ctx)
}

// Reset starts a new mount: state goes back to Checking and the guest login budget is restored.
func (g *AuthGate) Reset() {
	g.checkMu.Lock()
	defer g.checkMu.Unlock()

	g.mu.Lock()
	g.state = domain.AuthStateChecking
	g.authenticated = false
	g.initialDone = false
	g.loading = false
	g.lastErr = ""
	g.pageIndex = nil
	g.checkedAt = time.Time{}
	g.guestAttempted = false
	g.mu.Unlock()
	metrics.SetAuthState(domain.AuthStateChecking.String())
}

// StartSessionMonitor runs the periodic refresh loop until StopSessionMonitor is called or
// appCtx ends. Starting an already running monitor does nothing.
func (g *AuthGate) StartSessionMonitor(appCtx context.Context) {
	g.monitorMu.Lock()
	defer g.monitorMu.Unlock()
	if g.monitorStop != nil {
		return
	}

	interval := time.Duration(g.config.Get().Auth.MonitorIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	stop := make(chan struct{})
	g.monitorStop = stop
	g.monitorDone = safego.Execute(appCtx, g.logger, "SessionMonitor", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		g.logger.Info(appCtx, "Session monitor started", "interval", interval.String())
		for {
			select {
			case <-ticker.C:
				g.monitorTick(appCtx)
			case <-stop:
				g.logger.Info(appCtx, "Session monitor stopped")
				return
			case <-appCtx.Done():
				g.logger.Info(appCtx, "Session monitor shutting down due to context cancellation")
				return
			}
		}
	})
}

// StopSessionMonitor stops the loop and waits for it to exit.
func (g *AuthGate) StopSessionMonitor() {
	g.monitorMu.Lock()
	stop, done := g.monitorStop, g.monitorDone
	g.monitorStop, g.monitorDone = nil, nil
	g.monitorMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (g *AuthGate) monitorTick(ctx context.Context) {
	// Unauthenticated is terminal until the next mount or visibility change.
	if g.State() == domain.AuthStateUnauthenticated {
		return
	}
	if !g.refresher.NeedsRefresh(ctx) {
		return
	}
	if err := g.refresher.EnsureFreshToken(ctx); err != nil {
		return
	}
	g.checkMu.Lock()
	defer g.checkMu.Unlock()
	g.check(ctx, true)
}
