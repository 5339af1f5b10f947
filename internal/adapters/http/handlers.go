package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/application"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// PageContextSource is the read side of the auth gate.
type PageContextSource interface {
	Snapshot() application.PageContext
	GetPageInfo(pageType string) (domain.PageInfo, bool)
	GetPageIDWithFallback(pageType, fallback string) string
	OnVisibilityChange(ctx context.Context) domain.AuthState
}

// ContentSource is what the content handlers need from the content service.
type ContentSource interface {
	SearchVisas(ctx context.Context, countryCode string) ([]domain.VisaRequirement, error)
	Autocomplete(ctx context.Context, query string) ([]domain.Suggestion, error)
	FetchSection(ctx context.Context, slug string) (domain.Section, error)
}

// PageIDResponse is returned by GET /page-info/{type}?fallback=...
type PageIDResponse struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ReadyResponse is the body of /ready.
type ReadyResponse struct {
	Status  string           `json:"status"`
	Auth    domain.AuthState `json:"auth"`
	Storage string           `json:"storage"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, logger domain.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(ctx, "Failed to encode response", "error", err.Error())
	}
}

// writeDomainError maps a content error to the local error format.
func writeDomainError(ctx context.Context, w http.ResponseWriter, logger domain.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request", err.Error()).WriteJSON(w, http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnauthorized):
		domain.NewErrorResponse(domain.ErrCodeUnauthenticated, "CMS session rejected", "Session could not be refreshed.").WriteJSON(w, http.StatusUnauthorized)
	case errors.Is(err, domain.ErrNotFound):
		domain.NewErrorResponse(domain.ErrCodeNotFound, "Not found", err.Error()).WriteJSON(w, http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		domain.NewErrorResponse(domain.ErrCodeUpstream, "CMS timed out", err.Error()).WriteJSON(w, http.StatusGatewayTimeout)
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrInvalidEnvelope):
		domain.NewErrorResponse(domain.ErrCodeUpstream, "CMS request failed", err.Error()).WriteJSON(w, http.StatusBadGateway)
	default:
		logger.Error(ctx, "Unexpected error serving content", "error", err.Error())
		domain.NewErrorResponse(domain.ErrCodeInternal, "An unexpected error occurred.", "Internal server error.").WriteJSON(w, http.StatusInternalServerError)
	}
}

// PageContextHandler serves the current page context.
func PageContextHandler(gate PageContextSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, logger, http.StatusOK, gate.Snapshot())
	}
}

// VisibilityHandler tells the auth gate the page became visible and returns the resulting context.
func VisibilityHandler(gate PageContextSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := gate.OnVisibilityChange(r.Context())
		logger.Debug(r.Context(), "Visibility change handled", "state", state.String())
		writeJSON(r.Context(), w, logger, http.StatusOK, gate.Snapshot())
	}
}

// PageInfoHandler serves GET /page-info/{type}. With ?fallback= it answers with the page ID
// or the fallback instead of 404.
func PageInfoHandler(gate PageContextSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageType := r.PathValue("type")
		if pageType == "" {
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "Page type is required", "").WriteJSON(w, http.StatusBadRequest)
			return
		}

		if r.URL.Query().Has("fallback") {
			id := gate.GetPageIDWithFallback(pageType, r.URL.Query().Get("fallback"))
			writeJSON(r.Context(), w, logger, http.StatusOK, PageIDResponse{Type: pageType, ID: id})
			return
		}

		info, ok := gate.GetPageInfo(pageType)
		if !ok {
			domain.NewErrorResponse(domain.ErrCodeNotFound, "Unknown page type", pageType).WriteJSON(w, http.StatusNotFound)
			return
		}
		writeJSON(r.Context(), w, logger, http.StatusOK, info)
	}
}

// VisaSearchHandler serves GET /visa-search?country=XX.
func VisaSearchHandler(content ContentSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		country := r.URL.Query().Get("country")
		if country == "" {
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "country is required", "Provide ?country=XX.").WriteJSON(w, http.StatusBadRequest)
			return
		}
		visas, err := content.SearchVisas(r.Context(), country)
		if err != nil {
			writeDomainError(r.Context(), w, logger, err)
			return
		}
		writeJSON(r.Context(), w, logger, http.StatusOK, visas)
	}
}

// AutocompleteHandler serves GET /autocomplete?q=...
func AutocompleteHandler(content ContentSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suggestions, err := content.Autocomplete(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeDomainError(r.Context(), w, logger, err)
			return
		}
		if suggestions == nil {
			suggestions = []domain.Suggestion{}
		}
		writeJSON(r.Context(), w, logger, http.StatusOK, suggestions)
	}
}

// SectionHandler serves GET /sections/{slug}.
func SectionHandler(content ContentSource, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		section, err := content.FetchSection(r.Context(), r.PathValue("slug"))
		if err != nil {
			writeDomainError(r.Context(), w, logger, err)
			return
		}
		writeJSON(r.Context(), w, logger, http.StatusOK, section)
	}
}

// HealthHandler always answers 200 while the process is serving.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadyHandler answers 200 once the session is authenticated and storage is reachable.
func ReadyHandler(gate PageContextSource, storage domain.SessionStorage, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := ReadyResponse{Status: "READY", Auth: gate.Snapshot().State, Storage: "ok"}
		status := http.StatusOK
		if err := storage.Ping(ctx); err != nil {
			logger.Warn(ctx, "Readiness check: session storage unreachable", "error", err.Error())
			resp.Storage = "unavailable"
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
		}
		if resp.Auth != domain.AuthStateAuthenticated {
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
		}
		writeJSON(ctx, w, logger, status, resp)
	}
}
