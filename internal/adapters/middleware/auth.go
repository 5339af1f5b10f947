package middleware

import (
	"crypto/subtle"
	"net/http"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

const (
	apiKeyHeaderName = "X-API-Key"
	apiKeyQueryParam = "x-api-key"
)

// APIKeyAuthMiddleware protects the local HTTP surface with server.api_key.
// It checks for an API key in the request header (X-API-Key) or query parameter (x-api-key).
// When no key is configured every request passes.
func APIKeyAuthMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := cfgProvider.Get().Server.APIKey
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get(apiKeyHeaderName)
			if apiKey == "" {
				apiKey = r.URL.Query().Get(apiKeyQueryParam)
			}

			if apiKey == "" {
				logger.Warn(r.Context(), "API key authentication failed: Key missing", "path", r.URL.Path)
				errResp := domain.NewErrorResponse(domain.ErrCodeUnauthenticated, "API key is required", "Provide API key in X-API-Key header or x-api-key query parameter.")
				errResp.WriteJSON(w, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) != 1 {
				logger.Warn(r.Context(), "API key authentication failed: Invalid key", "path", r.URL.Path)
				errResp := domain.NewErrorResponse(domain.ErrCodeUnauthenticated, "Invalid API key", "The provided API key is not valid.")
				errResp.WriteJSON(w, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
