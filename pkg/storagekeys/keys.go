package storagekeys

import (
	"fmt"

	"gitlab.com/timkado/api/travel-session-client/pkg/crypto"
)

// Field names of the credential record inside one session namespace.
const (
	Identifier      = "auth_identifier"
	TokenIssuedAt   = "token_issued_at"
	SessionDuration = "session_duration"
	// RefreshLock guards re-authentication across processes sharing the session.
	RefreshLock = "refresh_lock"
)

// SessionNamespace returns the Redis key prefix for one session.
// The session ID is hashed so raw IDs never appear in the keyspace.
func SessionNamespace(sessionID string) string {
	return fmt.Sprintf("travel_session:%s", crypto.Sha256Hex(sessionID))
}

// SessionField returns the full Redis key of one credential field.
func SessionField(sessionID, field string) string {
	return fmt.Sprintf("%s:%s", SessionNamespace(sessionID), field)
}

// AuthEventsChannel is the pub/sub channel auth state changes are published on.
func AuthEventsChannel(serviceName string) string {
	return fmt.Sprintf("auth_events:%s", serviceName)
}
