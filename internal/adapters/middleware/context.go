package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/travel-session-client/pkg/contextkeys"
)

const XRequestIDHeader = "X-Request-ID"

// RequestIDMiddleware injects a request ID into the context.
// It tries to get it from the X-Request-ID header, otherwise generates a new UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(XRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, requestID)
		w.Header().Set(XRequestIDHeader, requestID) // Also set it in the response header
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionIDMiddleware tags every request context with the client's session ID for logging.
func SessionIDMiddleware(sessionID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextkeys.SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDTransport forwards the request ID found in the request context as X-Request-ID,
// generating one for calls that have none.
type RequestIDTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *RequestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get(XRequestIDHeader) != "" {
		return base.RoundTrip(req)
	}

	requestID, _ := req.Context().Value(contextkeys.RequestIDKey).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out := req.Clone(req.Context())
	out.Header.Set(XRequestIDHeader, requestID)
	return base.RoundTrip(out)
}
