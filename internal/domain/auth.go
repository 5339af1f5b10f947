package domain

import (
	"context"
	"fmt"
	"time"
)

// LoginResult is what a successful guest login yields.
// SessionDuration is zero when the endpoint did not report a validity window.
type LoginResult struct {
	SessionDuration time.Duration
}

// AuthAPI is the re-authentication endpoint of the CMS.
// GuestLogin returns an error wrapping ErrLoginRejected for non-2xx answers;
// any other error is a transport failure.
type AuthAPI interface {
	GuestLogin(ctx context.Context, userName string) (LoginResult, error)
}

// AuthState is the page-level authentication state.
type AuthState int

const (
	AuthStateChecking AuthState = iota
	AuthStateAuthenticated
	AuthStateUnauthenticated
	AuthStateError
)

func (s AuthState) String() string {
	switch s {
	case AuthStateChecking:
		return "checking"
	case AuthStateAuthenticated:
		return "authenticated"
	case AuthStateUnauthenticated:
		return "unauthenticated"
	case AuthStateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s AuthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *AuthState) UnmarshalText(text []byte) error {
	for candidate := AuthStateChecking; candidate <= AuthStateError; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown auth state %q", text)
}

// AuthStateChange is published whenever the auth gate moves between states.
type AuthStateChange struct {
	SessionID string    `json:"session_id"`
	From      AuthState `json:"from"`
	To        AuthState `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// AuthEventPublisher fans auth state changes out to other interested processes.
type AuthEventPublisher interface {
	PublishAuthStateChange(ctx context.Context, change AuthStateChange) error
}

// AuthEventHandler is invoked for every received AuthStateChange.
type AuthEventHandler func(change AuthStateChange) error

// AuthEventSubscriber listens for auth state changes.
type AuthEventSubscriber interface {
	SubscribeAuthStateChanges(ctx context.Context, handler AuthEventHandler) error
	Close() error
}
