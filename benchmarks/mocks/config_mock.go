package mocks

import (
	"sync/atomic"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
)

// MockConfigProvider implements config.Provider for benchmarking
type MockConfigProvider struct {
	config atomic.Pointer[config.Config]
}

// NewMockConfigProvider creates a new mock config provider with benchmark settings
func NewMockConfigProvider(baseURL string) *MockConfigProvider {
	cfg := config.Defaults()
	cfg.CMS.BaseURL = baseURL
	cfg.Log.Level = "error" // Minimize I/O overhead during benchmarks
	cfg.Retry.RetryDelayMs = 0
	cfg.Auth.RefreshTimeoutSeconds = 5
	cfg.App.ServiceName = "travel-session-client-benchmark"
	cfg.App.Version = "test"

	m := &MockConfigProvider{}
	m.config.Store(cfg)
	return m
}

// Get implements config.Provider
func (m *MockConfigProvider) Get() *config.Config {
	return m.config.Load()
}

// UpdateConfig allows updating config during tests
func (m *MockConfigProvider) UpdateConfig(cfg *config.Config) {
	m.config.Store(cfg)
}
