package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "TRAVEL_SESSION"

// ServerConfig holds the local HTTP surface settings.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort int    `mapstructure:"http_port"`
	APIKey   string `mapstructure:"api_key"` // optional; protects the local surface when set
}

// CMSConfig describes the CMS-backed API the client talks to.
type CMSConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIPrefix             string `mapstructure:"api_prefix"`  // internal API routes, e.g. "/api/"
	AuthPrefix            string `mapstructure:"auth_prefix"` // excluded from retry wrapping, e.g. "/api/auth/"
	GuestLoginPath        string `mapstructure:"guest_login_path"`
	PageDirectoryPath     string `mapstructure:"page_directory_path"`
	VisaSearchPath        string `mapstructure:"visa_search_path"`
	AutocompletePath      string `mapstructure:"autocomplete_path"`
	SectionPath           string `mapstructure:"section_path"`
	AutocompleteTimeoutMs int    `mapstructure:"autocomplete_timeout_ms"`
	SectionTimeoutSeconds int    `mapstructure:"section_timeout_seconds"`
}

// AuthConfig holds session refresh settings.
type AuthConfig struct {
	FallbackIdentifier            string `mapstructure:"fallback_identifier"` // guest user name for automatic logins
	IdentifierAESKey              string `mapstructure:"identifier_aes_key"`  // hex, 32 bytes; optional
	RefreshThresholdSeconds       int    `mapstructure:"refresh_threshold_seconds"`
	DefaultSessionDurationSeconds int    `mapstructure:"default_session_duration_seconds"`
	MonitorIntervalSeconds        int    `mapstructure:"monitor_interval_seconds"`
	RefreshTimeoutSeconds         int    `mapstructure:"refresh_timeout_seconds"`
}

// RetryConfig holds the resilient fetch policy.
type RetryConfig struct {
	MaxRetries              int  `mapstructure:"max_retries"` // total attempts
	RetryDelayMs            int  `mapstructure:"retry_delay_ms"`
	RetryOnBadRequest       bool `mapstructure:"retry_on_bad_request"`       // treat 400 like 401
	RetryAfterFailedRefresh bool `mapstructure:"retry_after_failed_refresh"` // retry even when the refresh call failed
}

// StorageConfig selects the session storage backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`    // "memory" or "redis"
	SessionID  string `mapstructure:"session_id"` // generated when empty
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	CMS     CMSConfig     `mapstructure:"cms"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
	App     AppConfig     `mapstructure:"app"`
}

// RefreshThreshold is the window before expiry within which a proactive refresh happens.
func (c *Config) RefreshThreshold() time.Duration {
	return time.Duration(c.Auth.RefreshThresholdSeconds) * time.Second
}

// DefaultSessionDuration is the validity window assumed when the CMS never reported one.
func (c *Config) DefaultSessionDuration() time.Duration {
	return time.Duration(c.Auth.DefaultSessionDurationSeconds) * time.Second
}

// RetryDelay is the pause between resilient fetch attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.RetryDelayMs) * time.Millisecond
}

// Defaults returns the built-in configuration. Viper layers file and env values on top.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: 8085},
		CMS: CMSConfig{
			BaseURL:               "http://localhost:3000",
			APIPrefix:             "/api/",
			AuthPrefix:            "/api/auth/",
			GuestLoginPath:        "/api/auth/guest-login",
			PageDirectoryPath:     "/api/cms/page-ids",
			VisaSearchPath:        "/api/cms/visa/search",
			AutocompletePath:      "/api/cms/autocomplete",
			SectionPath:           "/api/cms/sections",
			AutocompleteTimeoutMs: 5000,
			SectionTimeoutSeconds: 30,
		},
		Auth: AuthConfig{
			FallbackIdentifier:            "guest@travel-portal.local",
			RefreshThresholdSeconds:       300,
			DefaultSessionDurationSeconds: 3600,
			MonitorIntervalSeconds:        60,
			RefreshTimeoutSeconds:         15,
		},
		Retry: RetryConfig{
			MaxRetries:              3,
			RetryDelayMs:            500,
			RetryOnBadRequest:       true,
			RetryAfterFailedRefresh: true,
		},
		Storage: StorageConfig{Backend: "memory", TTLSeconds: 86400},
		Redis:   RedisConfig{Address: "localhost:6379"},
		Log:     LogConfig{Level: "info"},
		App: AppConfig{
			ServiceName:            "travel-session-client",
			Version:                "dev",
			ShutdownTimeoutSeconds: 15,
		},
	}
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// staticProvider serves a fixed configuration; used by tests and one-shot commands.
type staticProvider struct {
	config *Config
}

// NewStaticProvider wraps cfg in a Provider.
func NewStaticProvider(cfg *Config) Provider {
	return &staticProvider{config: cfg}
}

func (p *staticProvider) Get() *Config { return p.config }

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // zap directly, not domain.Logger, since the domain logger is built from this config
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.api_key", d.Server.APIKey)

	v.SetDefault("cms.base_url", d.CMS.BaseURL)
	v.SetDefault("cms.api_prefix", d.CMS.APIPrefix)
	v.SetDefault("cms.auth_prefix", d.CMS.AuthPrefix)
	v.SetDefault("cms.guest_login_path", d.CMS.GuestLoginPath)
	v.SetDefault("cms.page_directory_path", d.CMS.PageDirectoryPath)
	v.SetDefault("cms.visa_search_path", d.CMS.VisaSearchPath)
	v.SetDefault("cms.autocomplete_path", d.CMS.AutocompletePath)
	v.SetDefault("cms.section_path", d.CMS.SectionPath)
	v.SetDefault("cms.autocomplete_timeout_ms", d.CMS.AutocompleteTimeoutMs)
	v.SetDefault("cms.section_timeout_seconds", d.CMS.SectionTimeoutSeconds)

	v.SetDefault("auth.fallback_identifier", d.Auth.FallbackIdentifier)
	v.SetDefault("auth.identifier_aes_key", d.Auth.IdentifierAESKey)
	v.SetDefault("auth.refresh_threshold_seconds", d.Auth.RefreshThresholdSeconds)
	v.SetDefault("auth.default_session_duration_seconds", d.Auth.DefaultSessionDurationSeconds)
	v.SetDefault("auth.monitor_interval_seconds", d.Auth.MonitorIntervalSeconds)
	v.SetDefault("auth.refresh_timeout_seconds", d.Auth.RefreshTimeoutSeconds)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.retry_delay_ms", d.Retry.RetryDelayMs)
	v.SetDefault("retry.retry_on_bad_request", d.Retry.RetryOnBadRequest)
	v.SetDefault("retry.retry_after_failed_refresh", d.Retry.RetryAfterFailedRefresh)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.session_id", d.Storage.SessionID)
	v.SetDefault("storage.ttl_seconds", d.Storage.TTLSeconds)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("app.service_name", d.App.ServiceName)
	v.SetDefault("app.version", d.App.Version)
	v.SetDefault("app.shutdown_timeout_seconds", d.App.ShutdownTimeoutSeconds)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
		v.SetConfigType("yaml")
		v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
		v.AddConfigPath(".")
	}

	// server.http_port becomes TRAVEL_SESSION_SERVER_HTTP_PORT
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

// Load reads the configuration once without reload hooks. configFile may be empty.
func Load(configFile string) (*Config, error) {
	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading
// on SIGHUP and on config file changes.
// appCtx is the application lifecycle context used to stop the reload goroutine.
func NewViperProvider(appCtx context.Context, logger *zap.Logger, configFile string) (Provider, error) {
	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigChan)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "file_change")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(v *viper.Viper, trigger string) {
	newCfg := &Config{}
	if err := v.Unmarshal(newCfg); err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	p.config.Store(newCfg)
	p.logger.Info("Configuration reloaded successfully", zap.String("trigger", trigger))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
