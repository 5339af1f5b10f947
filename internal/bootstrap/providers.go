package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"gitlab.com/timkado/api/travel-session-client/internal/adapters/cms"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/config"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/logger"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/memory"
	"gitlab.com/timkado/api/travel-session-client/internal/adapters/middleware"
	appredis "gitlab.com/timkado/api/travel-session-client/internal/adapters/redis"
	"gitlab.com/timkado/api/travel-session-client/internal/application"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/crypto"
	"gitlab.com/timkado/api/travel-session-client/pkg/storagekeys"
)

const (
	storageBackendRedis = "redis"
	outboundTimeout     = 60 * time.Second
)

// ConfigFile is the optional explicit config file path from the command line.
type ConfigFile string

// SessionID names the session namespace this process works in.
type SessionID string

// Distinct client types so Wire can tell the two cookie-sharing clients apart.
type (
	// AuthHTTPClient calls the auth endpoints and is never wrapped by the retry transport.
	AuthHTTPClient struct{ *http.Client }
	// APIHTTPClient calls internal API routes through the retry transport.
	APIHTTPClient struct{ *http.Client }
)

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
// It returns the logger, a cleanup function (for syncing), and an error if creation fails.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App struct is defined here for Wire to use.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	redisClient    *redis.Client
	storage        domain.SessionStorage
	refresher      *application.SessionRefresher
	gate           *application.AuthGate
	content        *application.ContentService
	sessionID      SessionID
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	redisClient *redis.Client,
	storage domain.SessionStorage,
	refresher *application.SessionRefresher,
	gate *application.AuthGate,
	content *application.ContentService,
	sessionID SessionID,
) (*App, func(), error) {
	app := &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		redisClient:    redisClient,
		storage:        storage,
		refresher:      refresher,
		gate:           gate,
		content:        content,
		sessionID:      sessionID,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		app.gate.StopSessionMonitor()
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
// appCtx is passed to NewViperProvider for graceful goroutine shutdown.
func ConfigProvider(appCtx context.Context, logger *zap.Logger, configFile ConfigFile) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger, string(configFile))
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// SessionIDProvider returns the configured session ID or a fresh one, mirroring a new browser tab.
func SessionIDProvider(cfgProvider config.Provider, appLogger domain.Logger) SessionID {
	id := cfgProvider.Get().Storage.SessionID
	if id == "" {
		id = uuid.NewString()
		appLogger.Info(context.Background(), "Generated session ID", "session_id", id)
	}
	return SessionID(id)
}

// RedisClientProvider provides a Redis client and a cleanup function. It returns a nil client
// when the storage backend is not redis.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	appCfg := cfgProvider.Get()
	if appCfg.Storage.Backend != storageBackendRedis {
		appLogger.Info(context.Background(), "Redis not configured; using in-memory session storage", "backend", appCfg.Storage.Backend)
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     appCfg.Redis.Address,
		Password: appCfg.Redis.Password,
		DB:       appCfg.Redis.DB,
	})
	_, err := client.Ping(context.Background()).Result()
	if err != nil {
		appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
	}
	cleanup := func() {
		client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(context.Background(), "Successfully connected to Redis", "address", appCfg.Redis.Address)
	return client, cleanup, nil
}

// SessionStorageProvider selects the session storage backend.
func SessionStorageProvider(cfgProvider config.Provider, appLogger domain.Logger, redisClient *redis.Client, sessionID SessionID) domain.SessionStorage {
	if redisClient == nil {
		return memory.NewSessionStorage()
	}
	ttl := time.Duration(cfgProvider.Get().Storage.TTLSeconds) * time.Second
	return appredis.NewSessionStorageAdapter(redisClient, appLogger, string(sessionID), ttl)
}

// RefreshLockProvider provides the cross-process refresh lock, or nil without Redis.
func RefreshLockProvider(redisClient *redis.Client, appLogger domain.Logger, sessionID SessionID) domain.RefreshLock {
	if redisClient == nil {
		return nil
	}
	return appredis.NewRefreshLockAdapter(redisClient, appLogger, string(sessionID))
}

// AuthEventPublisherProvider publishes auth state changes on Redis, or only logs them.
func AuthEventPublisherProvider(cfgProvider config.Provider, redisClient *redis.Client, appLogger domain.Logger) domain.AuthEventPublisher {
	if redisClient == nil {
		return memory.NewLogEventPublisher(appLogger)
	}
	channel := storagekeys.AuthEventsChannel(cfgProvider.Get().App.ServiceName)
	return appredis.NewAuthEventsPubSubAdapter(redisClient, appLogger, channel)
}

// IdentifierCodecProvider builds the identifier codec from auth.identifier_aes_key.
func IdentifierCodecProvider(cfgProvider config.Provider) (*crypto.IdentifierCodec, error) {
	return crypto.NewIdentifierCodec(cfgProvider.Get().Auth.IdentifierAESKey)
}

// CookieJarProvider provides the jar shared by the auth and API clients.
func CookieJarProvider() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// AuthHTTPClientProvider provides the unwrapped client for the auth endpoints.
func AuthHTTPClientProvider(jar http.CookieJar) AuthHTTPClient {
	return AuthHTTPClient{&http.Client{
		Transport: &middleware.RequestIDTransport{Base: http.DefaultTransport},
		Jar:       jar,
		Timeout:   outboundTimeout,
	}}
}

// CredentialStoreProvider provides the credential store.
func CredentialStoreProvider(appLogger domain.Logger, cfgProvider config.Provider, storage domain.SessionStorage, codec *crypto.IdentifierCodec, jar http.CookieJar) (*application.CredentialStore, error) {
	return application.NewCredentialStore(appLogger, cfgProvider, storage, codec, jar)
}

// AuthAPIProvider provides the guest-login client.
func AuthAPIProvider(client AuthHTTPClient, cfgProvider config.Provider, appLogger domain.Logger) domain.AuthAPI {
	return cms.NewAuthAPI(client.Client, cfgProvider, appLogger)
}

// SessionRefresherProvider provides the session refresher.
func SessionRefresherProvider(appLogger domain.Logger, cfgProvider config.Provider, store *application.CredentialStore, authAPI domain.AuthAPI, lock domain.RefreshLock) *application.SessionRefresher {
	return application.NewSessionRefresher(appLogger, cfgProvider, store, authAPI, lock)
}

// APIHTTPClientProvider provides the client for internal API routes with resilient fetch enabled.
func APIHTTPClientProvider(cfgProvider config.Provider, jar http.CookieJar, refresher *application.SessionRefresher, appLogger domain.Logger) APIHTTPClient {
	client := &http.Client{
		Transport: &middleware.RequestIDTransport{Base: http.DefaultTransport},
		Jar:       jar,
		Timeout:   outboundTimeout,
	}
	application.EnableGlobalFetchRetry(client, cfgProvider, refresher, appLogger)
	return APIHTTPClient{client}
}

// CMSClientProvider provides the CMS data client.
func CMSClientProvider(client APIHTTPClient, cfgProvider config.Provider, appLogger domain.Logger) *cms.Client {
	return cms.NewClient(client.Client, cfgProvider, appLogger)
}

// ContentServiceProvider provides the content service.
func ContentServiceProvider(appLogger domain.Logger, cfgProvider config.Provider, client *cms.Client, dedupe *application.Deduplicator) *application.ContentService {
	return application.NewContentService(appLogger, cfgProvider, client, dedupe)
}

// AuthGateProvider provides the auth gate.
func AuthGateProvider(
	appLogger domain.Logger,
	cfgProvider config.Provider,
	refresher *application.SessionRefresher,
	client *cms.Client,
	publisher domain.AuthEventPublisher,
	sessionID SessionID,
) *application.AuthGate {
	return application.NewAuthGate(appLogger, cfgProvider, refresher, client, publisher, string(sessionID))
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides a new HTTP server configured for graceful shutdown.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()
	// Section fetches may take up to their own timeout, so writes get a little more.
	writeTimeout := time.Duration(appCfg.CMS.SectionTimeoutSeconds+5) * time.Second
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	SessionIDProvider,
	RedisClientProvider,
	SessionStorageProvider,
	RefreshLockProvider,
	AuthEventPublisherProvider,
	IdentifierCodecProvider,
	CookieJarProvider,
	AuthHTTPClientProvider,
	CredentialStoreProvider,
	AuthAPIProvider,
	SessionRefresherProvider,
	APIHTTPClientProvider,
	CMSClientProvider,
	application.NewDeduplicator,
	ContentServiceProvider,
	AuthGateProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,
	NewApp,
)
