package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

type fakeGateRefresher struct {
	guestOK      bool
	needsRefresh bool

	guestCalls  atomic.Int32
	ensureCalls atomic.Int32
	logoutCalls atomic.Int32
}

func (f *fakeGateRefresher) EnsureFreshToken(context.Context) error {
	f.ensureCalls.Add(1)
	return nil
}

func (f *fakeGateRefresher) LoginAsGuest(context.Context) bool {
	f.guestCalls.Add(1)
	return f.guestOK
}

func (f *fakeGateRefresher) NeedsRefresh(context.Context) bool { return f.needsRefresh }

func (f *fakeGateRefresher) Logout(context.Context) { f.logoutCalls.Add(1) }

// scriptedDirectory answers FetchPages with the queued errors, then with pages.
type scriptedDirectory struct {
	mu    sync.Mutex
	errs  []error
	pages map[string]domain.PageInfo
	calls int
}

func (d *scriptedDirectory) FetchPages(context.Context) (map[string]domain.PageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.pages, nil
}

func (d *scriptedDirectory) queue(errs ...error) {
	d.mu.Lock()
	d.errs = append(d.errs, errs...)
	d.mu.Unlock()
}

func (d *scriptedDirectory) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.AuthStateChange
}

func (p *recordingPublisher) PublishAuthStateChange(_ context.Context, c domain.AuthStateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) transitions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, fmt.Sprintf("%s->%s", c.From, c.To))
	}
	return out
}

var unauthorized = fmt.Errorf("fetch page ids: %w", domain.ErrUnauthorized)

func testPages() map[string]domain.PageInfo {
	return map[string]domain.PageInfo{
		"home": {Type: "home", ID: "p-1", Slug: "/"},
		"visa": {Type: "visa", ID: "p-7", Slug: "/visa"},
	}
}

func newTestGate(t *testing.T, refresher GateRefresher, dir domain.PageDirectory, pub domain.AuthEventPublisher) *AuthGate {
	return NewAuthGate(newTestLogger(t), config.NewStaticProvider(newTestConfig("")), refresher, dir, pub, "tab-1")
}

func TestAuthGate_AuthenticatedOnFirstCheck(t *testing.T) {
	pub := &recordingPublisher{}
	g := newTestGate(t, &fakeGateRefresher{}, &scriptedDirectory{pages: testPages()}, pub)

	before := g.Snapshot()
	assert.Equal(t, domain.AuthStateChecking, before.State)
	assert.False(t, before.InitialAuthCheckDone)

	assert.Equal(t, domain.AuthStateAuthenticated, g.Check(context.Background()))

	snap := g.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.True(t, snap.InitialAuthCheckDone)
	assert.False(t, snap.Loading)
	assert.Equal(t, "p-7", g.GetPageIDWithFallback("visa", "fallback"))
	assert.Equal(t, "fallback", g.GetPageIDWithFallback("blog", "fallback"))
	info, ok := g.GetPageInfo("home")
	require.True(t, ok)
	assert.Equal(t, "/", info.Slug)

	assert.Equal(t, []string{"checking->authenticated"}, pub.transitions())
	assert.Equal(t, "tab-1", pub.changes[0].SessionID)
}

func TestAuthGate_GuestLoginRecovers(t *testing.T) {
	ref := &fakeGateRefresher{guestOK: true}
	dir := &scriptedDirectory{pages: testPages()}
	dir.queue(unauthorized)
	g := newTestGate(t, ref, dir, &recordingPublisher{})

	assert.Equal(t, domain.AuthStateAuthenticated, g.Check(context.Background()))
	assert.EqualValues(t, 1, ref.guestCalls.Load())
	assert.Equal(t, 2, dir.callCount())
	assert.Zero(t, ref.logoutCalls.Load())
}

func TestAuthGate_FailedGuestLoginIsTerminal(t *testing.T) {
	ref := &fakeGateRefresher{guestOK: false}
	dir := &scriptedDirectory{pages: testPages()}
	dir.queue(unauthorized)
	pub := &recordingPublisher{}
	g := newTestGate(t, ref, dir, pub)

	assert.Equal(t, domain.AuthStateUnauthenticated, g.Check(context.Background()))
	snap := g.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.True(t, snap.InitialAuthCheckDone)
	assert.EqualValues(t, 1, ref.logoutCalls.Load(), "terminal state clears the credential record")
	assert.Equal(t, []string{"checking->unauthenticated"}, pub.transitions())
}

func TestAuthGate_OneGuestLoginPerMount(t *testing.T) {
	ref := &fakeGateRefresher{guestOK: true}
	dir := &scriptedDirectory{pages: testPages()}
	dir.queue(unauthorized, unauthorized)
	g := newTestGate(t, ref, dir, &recordingPublisher{})

	assert.Equal(t, domain.AuthStateUnauthenticated, g.Check(context.Background()))
	assert.EqualValues(t, 1, ref.guestCalls.Load())

	dir.queue(unauthorized)
	assert.Equal(t, domain.AuthStateUnauthenticated, g.Check(context.Background()))
	assert.EqualValues(t, 1, ref.guestCalls.Load(), "budget is spent for this mount")

	g.Reset()
	assert.Equal(t, domain.AuthStateChecking, g.State())
	dir.queue(unauthorized)
	assert.Equal(t, domain.AuthStateAuthenticated, g.Check(context.Background()))
	assert.EqualValues(t, 2, ref.guestCalls.Load())
}

func TestAuthGate_NonAuthFailureKeepsAuthenticatedFlag(t *testing.T) {
	dir := &scriptedDirectory{pages: testPages()}
	g := newTestGate(t, &fakeGateRefresher{}, dir, &recordingPublisher{})
	require.Equal(t, domain.AuthStateAuthenticated, g.Check(context.Background()))

	dir.queue(fmt.Errorf("fetch page ids: %w", domain.ErrUpstream))
	assert.Equal(t, domain.AuthStateError, g.Check(context.Background()))

	snap := g.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Contains(t, snap.LastError, "cms upstream error")
}

func TestAuthGate_OnVisibilityChange(t *testing.T) {
	dir := &scriptedDirectory{pages: testPages()}
	dir.queue(errors.New("dial tcp: connection refused"))
	g := newTestGate(t, &fakeGateRefresher{}, dir, &recordingPublisher{})

	require.Equal(t, domain.AuthStateError, g.Check(context.Background()))
	assert.Equal(t, domain.AuthStateAuthenticated, g.OnVisibilityChange(context.Background()))
	assert.Equal(t, 2, dir.callCount())

	assert.Equal(t, domain.AuthStateAuthenticated, g.OnVisibilityChange(context.Background()))
	assert.Equal(t, 2, dir.callCount(), "no re-check while authenticated")
}

func TestAuthGate_MonitorTick(t *testing.T) {
	ref := &fakeGateRefresher{needsRefresh: true}
	dir := &scriptedDirectory{pages: testPages()}
	g := newTestGate(t, ref, dir, &recordingPublisher{})
	require.Equal(t, domain.AuthStateAuthenticated, g.Check(context.Background()))

	g.monitorTick(context.Background())
	assert.EqualValues(t, 1, ref.ensureCalls.Load())
	assert.Equal(t, 2, dir.callCount())

	// Transient failures during a tick do not move the state.
	dir.queue(errors.New("timeout"))
	g.monitorTick(context.Background())
	assert.Equal(t, domain.AuthStateAuthenticated, g.State())

	ref.needsRefresh = false
	fetches := dir.callCount()
	for i := 0; i < 5; i++ {
		g.monitorTick(context.Background())
	}
	assert.EqualValues(t, 2, ref.ensureCalls.Load())
	assert.Equal(t, fetches, dir.callCount(), "a fresh session does not reload the page directory")
}

func TestAuthGate_MonitorSkipsTerminalState(t *testing.T) {
	ref := &fakeGateRefresher{needsRefresh: true}
	dir := &scriptedDirectory{pages: testPages()}
	dir.queue(unauthorized)
	g := newTestGate(t, ref, dir, &recordingPublisher{})
	require.Equal(t, domain.AuthStateUnauthenticated, g.Check(context.Background()))

	calls := dir.callCount()
	g.monitorTick(context.Background())
	assert.Equal(t, calls, dir.callCount())
	assert.Zero(t, ref.ensureCalls.Load())
}

func TestAuthGate_StartStopMonitor(t *testing.T) {
	g := newTestGate(t, &fakeGateRefresher{}, &scriptedDirectory{pages: testPages()}, &recordingPublisher{})

	g.StartSessionMonitor(context.Background())
	g.StartSessionMonitor(context.Background())
	g.StopSessionMonitor()
	g.StopSessionMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	g.StartSessionMonitor(ctx)
	cancel()
	g.StopSessionMonitor()
}
