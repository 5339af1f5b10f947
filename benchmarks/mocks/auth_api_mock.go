package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// MockAuthAPI implements domain.AuthAPI for benchmarking
type MockAuthAPI struct {
	Latency         time.Duration
	SessionDuration time.Duration

	// Metrics for benchmarking
	LoginAttempts  int64
	LoginSuccesses int64
	LoginFailures  int64
	reject         atomic.Bool
}

// NewMockAuthAPI creates a new mock auth API answering after latency
func NewMockAuthAPI(latency time.Duration) *MockAuthAPI {
	return &MockAuthAPI{Latency: latency, SessionDuration: 30 * time.Minute}
}

// GuestLogin implements domain.AuthAPI
func (m *MockAuthAPI) GuestLogin(ctx context.Context, userName string) (domain.LoginResult, error) {
	atomic.AddInt64(&m.LoginAttempts, 1)
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			atomic.AddInt64(&m.LoginFailures, 1)
			return domain.LoginResult{}, ctx.Err()
		}
	}
	if m.reject.Load() {
		atomic.AddInt64(&m.LoginFailures, 1)
		return domain.LoginResult{}, domain.ErrLoginRejected
	}
	atomic.AddInt64(&m.LoginSuccesses, 1)
	return domain.LoginResult{SessionDuration: m.SessionDuration}, nil
}

// SetReject makes subsequent logins fail with domain.ErrLoginRejected
func (m *MockAuthAPI) SetReject(reject bool) {
	m.reject.Store(reject)
}

// GetMetrics returns current metrics for benchmark analysis
func (m *MockAuthAPI) GetMetrics() (attempts, successes, failures int64) {
	return atomic.LoadInt64(&m.LoginAttempts), atomic.LoadInt64(&m.LoginSuccesses), atomic.LoadInt64(&m.LoginFailures)
}

// Reset clears all metrics
func (m *MockAuthAPI) Reset() {
	atomic.StoreInt64(&m.LoginAttempts, 0)
	atomic.StoreInt64(&m.LoginSuccesses, 0)
	atomic.StoreInt64(&m.LoginFailures, 0)
	m.reject.Store(false)
}
