package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// SessionIDKey is the context key for the session namespace a call belongs to.
	SessionIDKey contextKey = "session_id"

	// OperationKey names the client-side operation (e.g. "visa_search") for log correlation.
	OperationKey contextKey = "operation"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
