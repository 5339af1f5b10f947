package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/metrics"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// drainLimit caps how much of a discarded response body is read so the connection can be reused.
const drainLimit = 64 << 10

// RetryPolicy is the resilient fetch policy for internal API routes.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts, the first one included.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// RetryOnBadRequest treats HTTP 400 like 401; the CMS answers 400 for some stale sessions.
	RetryOnBadRequest bool
	// RetryAfterFailedRefresh retries even when the session refresh reported failure.
	RetryAfterFailedRefresh bool
}

// RetryPolicyFromConfig builds the policy from the retry section.
func RetryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxRetries:              cfg.Retry.MaxRetries,
		RetryDelay:              cfg.RetryDelay(),
		RetryOnBadRequest:       cfg.Retry.RetryOnBadRequest,
		RetryAfterFailedRefresh: cfg.Retry.RetryAfterFailedRefresh,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// retryReason returns the metric label for a retryable status, or "" when the status is final.
func (p RetryPolicy) retryReason(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusBadRequest && p.RetryOnBadRequest:
		return "bad_request"
	default:
		return ""
	}
}

// RouteMatcher decides which requests are internal API calls.
type RouteMatcher struct {
	scheme     string
	host       string
	apiPrefix  string
	authPrefix string
}

// NewRouteMatcher matches requests to the CMS origin under APIPrefix, except the auth routes.
func NewRouteMatcher(cms config.CMSConfig) (*RouteMatcher, error) {
	origin, err := url.Parse(cms.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cms.base_url: %w", err)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("invalid cms.base_url %q: missing host", cms.BaseURL)
	}
	return &RouteMatcher{
		scheme:     strings.ToLower(origin.Scheme),
		host:       strings.ToLower(origin.Host),
		apiPrefix:  cms.APIPrefix,
		authPrefix: cms.AuthPrefix,
	}, nil
}

// Intercepts reports whether req is an internal API call that gets the retry treatment.
func (m *RouteMatcher) Intercepts(req *http.Request) bool {
	if req.URL == nil {
		return false
	}
	if strings.ToLower(req.URL.Scheme) != m.scheme || strings.ToLower(req.URL.Host) != m.host {
		return false
	}
	path := req.URL.Path
	if m.authPrefix != "" && strings.HasPrefix(path, m.authPrefix) {
		return false
	}
	return m.apiPrefix == "" || strings.HasPrefix(path, m.apiPrefix)
}

// SessionRenewer is the part of SessionRefresher the transport depends on.
type SessionRenewer interface {
	RefreshSession(ctx context.Context) bool
}

type noFetchRetryKey struct{}

// WithoutFetchRetry marks ctx so that RetryTransport sends its requests once, without the
// refresh-and-retry treatment.
func WithoutFetchRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noFetchRetryKey{}, true)
}

func fetchRetryDisabled(ctx context.Context) bool {
	off, _ := ctx.Value(noFetchRetryKey{}).(bool)
	return off
}

// RetryTransport is an http.RoundTripper that refreshes the session and retries internal API
// calls answered with an auth failure. Everything else passes straight to the base transport.
// HTTP statuses are never turned into errors; the last response is returned as is.
type RetryTransport struct {
	base      http.RoundTripper
	config    config.Provider
	refresher SessionRenewer
	jar       http.CookieJar
	logger    domain.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryTransport wraps base. jar, when set, supplies fresh cookies to retried requests,
// since http.Client attaches cookies only once per request.
func NewRetryTransport(base http.RoundTripper, cfgProvider config.Provider, refresher SessionRenewer, jar http.CookieJar, logger domain.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if refresher == nil {
		panic("refresher is nil in NewRetryTransport")
	}
	return &RetryTransport{
		base:      base,
		config:    cfgProvider,
		refresher: refresher,
		jar:       jar,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cfg := t.config.Get()
	matcher, err := NewRouteMatcher(cfg.CMS)
	if err != nil || !matcher.Intercepts(req) || fetchRetryDisabled(req.Context()) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	policy := RetryPolicyFromConfig(cfg)
	attempts := policy.attempts()

	getBody, buffered, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		outReq := req
		if attempt > 1 || buffered {
			if outReq, err = t.rewind(req, getBody, attempt > 1); err != nil {
				return nil, err
			}
		}

		resp, err := t.base.RoundTrip(outReq)
		if err != nil {
			if attempt >= attempts || ctx.Err() != nil {
				metrics.IncrementFetchExhausted("network")
				return nil, err
			}
			t.logger.Warn(ctx, "Internal API request failed; retrying",
				"method", req.Method, "path", req.URL.Path, "attempt", attempt, "error", err.Error())
			metrics.IncrementFetchRetry("network")
			if err := t.sleep(ctx, policy.RetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		reason := policy.retryReason(resp.StatusCode)
		if reason == "" {
			return resp, nil
		}
		if attempt >= attempts {
			t.logger.Warn(ctx, "Internal API request still rejected after all attempts",
				"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "attempts", attempt)
			metrics.IncrementFetchExhausted(reason)
			return resp, nil
		}

		refreshed := t.refresher.RefreshSession(ctx)
		if !refreshed && !policy.RetryAfterFailedRefresh {
			t.logger.Info(ctx, "Session refresh failed; returning rejected response",
				"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
			metrics.IncrementFetchExhausted(reason)
			return resp, nil
		}

		drainAndClose(resp)
		t.logger.Info(ctx, "Internal API request rejected; retrying after session refresh",
			"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode,
			"attempt", attempt, "refreshed", refreshed)
		metrics.IncrementFetchRetry(reason)

		if err := t.sleep(ctx, policy.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// rewind clones req with a fresh body and, for retries, the cookies currently in the jar.
func (t *RetryTransport) rewind(req *http.Request, getBody func() (io.ReadCloser, error), refreshCookies bool) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}
	if refreshCookies && t.jar != nil {
		mergeJarCookies(out, t.jar.Cookies(out.URL))
	}
	return out, nil
}

// replayableBody returns a body factory for req. Bodies without GetBody are read into
// memory once; buffered reports that the original body has been consumed.
func replayableBody(req *http.Request) (getBody func() (io.ReadCloser, error), buffered bool, err error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, false, nil
	}
	if req.GetBody != nil {
		return req.GetBody, false, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, false, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, true, nil
}

// mergeJarCookies replaces cookies on req that the jar has newer values for.
func mergeJarCookies(req *http.Request, fresh []*http.Cookie) {
	if len(fresh) == 0 {
		return
	}
	names := make(map[string]struct{}, len(fresh))
	for _, c := range fresh {
		names[c.Name] = struct{}{}
	}
	existing := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range fresh {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	for _, c := range existing {
		if _, ok := names[c.Name]; !ok {
			req.AddCookie(c)
		}
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()
}

var installMu sync.Mutex

// EnableGlobalFetchRetry installs a RetryTransport on client. The client's current transport
// becomes the base and is captured once; installing on an already wrapped client does nothing
// and returns false.
func EnableGlobalFetchRetry(client *http.Client, cfgProvider config.Provider, refresher SessionRenewer, logger domain.Logger) bool {
	installMu.Lock()
	defer installMu.Unlock()

	if _, ok := client.Transport.(*RetryTransport); ok {
		return false
	}
	client.Transport = NewRetryTransport(client.Transport, cfgProvider, refresher, client.Jar, logger)
	logger.Info(context.Background(), "Resilient fetch enabled for internal API routes")
	return true
}
