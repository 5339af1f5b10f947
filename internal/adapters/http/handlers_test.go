package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/logger"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/memory"
	"gitlab.com/timkado/api/travel-session-client/internal/application"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

type stubGate struct {
	ctx         application.PageContext
	visibleHits int
}

func (s *stubGate) Snapshot() application.PageContext { return s.ctx }

func (s *stubGate) GetPageInfo(pageType string) (domain.PageInfo, bool) {
	info, ok := s.ctx.Pages[pageType]
	return info, ok
}

func (s *stubGate) GetPageIDWithFallback(pageType, fallback string) string {
	if info, ok := s.ctx.Pages[pageType]; ok {
		return info.ID
	}
	return fallback
}

func (s *stubGate) OnVisibilityChange(context.Context) domain.AuthState {
	s.visibleHits++
	return s.ctx.State
}

type stubContent struct {
	visas []domain.VisaRequirement
	err   error
}

func (s *stubContent) SearchVisas(context.Context, string) ([]domain.VisaRequirement, error) {
	return s.visas, s.err
}

func (s *stubContent) Autocomplete(context.Context, string) ([]domain.Suggestion, error) {
	return nil, s.err
}

func (s *stubContent) FetchSection(_ context.Context, slug string) (domain.Section, error) {
	return domain.Section{Slug: slug}, s.err
}

func newMux(t *testing.T, gate PageContextSource, content ContentSource) *http.ServeMux {
	log := logger.NewFromZap(zaptest.NewLogger(t))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /page-context", PageContextHandler(gate, log))
	mux.HandleFunc("POST /page-context/visibility", VisibilityHandler(gate, log))
	mux.HandleFunc("GET /page-info/{type}", PageInfoHandler(gate, log))
	mux.HandleFunc("GET /visa-search", VisaSearchHandler(content, log))
	mux.HandleFunc("GET /autocomplete", AutocompleteHandler(content, log))
	mux.HandleFunc("GET /sections/{slug}", SectionHandler(content, log))
	mux.HandleFunc("GET /ready", ReadyHandler(gate, memory.NewSessionStorage(), log))
	return mux
}

func authenticatedGate() *stubGate {
	return &stubGate{ctx: application.PageContext{
		State:                domain.AuthStateAuthenticated,
		IsAuthenticated:      true,
		InitialAuthCheckDone: true,
		Pages:                map[string]domain.PageInfo{"visa": {Type: "visa", ID: "p-7"}},
	}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestPageContextHandler(t *testing.T) {
	mux := newMux(t, authenticatedGate(), &stubContent{})
	rec := get(t, mux, "/page-context")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authenticated", body["state"])
	assert.Equal(t, true, body["isAuthenticated"])
	assert.Equal(t, true, body["initialAuthCheckDone"])
}

func TestVisibilityHandler(t *testing.T) {
	gate := authenticatedGate()
	mux := newMux(t, gate, &stubContent{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/page-context/visibility", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gate.visibleHits)
}

func TestPageInfoHandler(t *testing.T) {
	mux := newMux(t, authenticatedGate(), &stubContent{})

	rec := get(t, mux, "/page-info/visa")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"p-7"`)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/page-info/blog").Code)

	rec = get(t, mux, "/page-info/blog?fallback=p-default")
	require.Equal(t, http.StatusOK, rec.Code)
	var id PageIDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	assert.Equal(t, PageIDResponse{Type: "blog", ID: "p-default"}, id)
}

func TestVisaSearchHandler(t *testing.T) {
	content := &stubContent{visas: []domain.VisaRequirement{{CountryCode: "JP", VisaType: "e-visa"}}}
	mux := newMux(t, authenticatedGate(), content)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/visa-search").Code)

	rec := get(t, mux, "/visa-search?country=JP")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "e-visa")
}

func TestContentErrorMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", domain.ErrUnauthorized):    http.StatusUnauthorized,
		fmt.Errorf("x: %w", domain.ErrNotFound):        http.StatusNotFound,
		fmt.Errorf("x: %w", domain.ErrUpstream):        http.StatusBadGateway,
		fmt.Errorf("x: %w", domain.ErrInvalidEnvelope): http.StatusBadGateway,
		fmt.Errorf("x: %w", domain.ErrInvalidInput):    http.StatusBadRequest,
		fmt.Errorf("x: %w", context.DeadlineExceeded):  http.StatusGatewayTimeout,

		assert.AnError: http.StatusInternalServerError,
	}
	for err, want := range cases {
		mux := newMux(t, authenticatedGate(), &stubContent{err: err})
		assert.Equal(t, want, get(t, mux, "/sections/deals").Code, err.Error())
	}
}

func TestAutocompleteHandler_EmptyList(t *testing.T) {
	mux := newMux(t, authenticatedGate(), &stubContent{})
	rec := get(t, mux, "/autocomplete?q=")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestReadyHandler(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newMux(t, authenticatedGate(), &stubContent{}), "/ready").Code)

	gate := &stubGate{ctx: application.PageContext{State: domain.AuthStateError}}
	rec := get(t, newMux(t, gate, &stubContent{}), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_READY")
}
