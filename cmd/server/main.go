// Command server starts the OpenAir Live API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"openair-live/internal/api"
	"openair-live/internal/auth"
	"openair-live/internal/auth/oauth"
	"openair-live/internal/live"
	"openair-live/internal/observability/logging"
	"openair-live/internal/observability/metrics"
	"openair-live/internal/server"
	"openair-live/internal/storage"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected provider=value", value)
	}
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[name] = strings.TrimSpace(parts[1])
	return nil
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, postgres, or redis)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionRedisURL := flag.String("session-redis-url", "", "Redis URL for the session store")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks of trusted proxies")
	rateRedisURL := flag.String("rate-redis-url", "", "Redis URL for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for login throttle Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	youtubeBaseURL := flag.String("youtube-base-url", "", "override the YouTube Live API base URL")
	oauthProvidersFlag := flag.String("oauth-providers", "", "JSON array or path describing OAuth providers")
	var oauthClientIDs keyValueFlag
	var oauthClientSecrets keyValueFlag
	var oauthRedirects keyValueFlag
	flag.Var(&oauthClientIDs, "oauth-client-id", "override OAuth client ID (provider=value)")
	flag.Var(&oauthClientSecrets, "oauth-client-secret", "override OAuth client secret (provider=value)")
	flag.Var(&oauthRedirects, "oauth-redirect-url", "override OAuth redirect URL (provider=value)")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("OPENAIR_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	providers, oauthService, err := oauth.LoadFromFlagsAndEnv(oauth.LoadInput{
		Source:        *oauthProvidersFlag,
		ClientIDs:     oauthClientIDs,
		ClientSecrets: oauthClientSecrets,
		RedirectURLs:  oauthRedirects,
	})
	if err != nil {
		logger.Error("failed to configure oauth", "error", err)
		os.Exit(1)
	}

	serverMode := modeValue(*mode, os.Getenv("OPENAIR_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("OPENAIR_ADDR"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("OPENAIR_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("OPENAIR_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "OPENAIR_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "OPENAIR_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "OPENAIR_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "OPENAIR_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "OPENAIR_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "OPENAIR_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("OPENAIR_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(bootCtx, postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("OPENAIR_SESSION_STORE"),
		driver,
		postgresDefaultDSN,
		firstNonEmpty(*sessionPostgresDSN, os.Getenv("OPENAIR_SESSION_POSTGRES_DSN")),
		firstNonEmpty(*sessionRedisURL, os.Getenv("OPENAIR_SESSION_REDIS_URL")),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(bootCtx, sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	case "redis":
		redisStore, err := auth.NewRedisSessionStore(sessionConfig.URL)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = func(context.Context) error { return redisStore.Close() }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessions := auth.NewSessionManager(24*time.Hour, auth.WithStore(sessionStore))

	handler := api.NewHandler(store, sessions)
	handler.OAuth = oauthService

	if google, ok := findProvider(providers, "google"); ok {
		liveService, err := live.NewService(live.Config{
			Store: store,
			Platform: live.GooglePlatformFactory(live.GoogleFactoryConfig{
				Store:    store,
				Provider: google,
				BaseURL:  firstNonEmpty(*youtubeBaseURL, os.Getenv("OPENAIR_YOUTUBE_BASE_URL")),
				Logger:   logging.WithComponent(logger, "youtube"),
			}),
			Logger:  logging.WithComponent(logger, "live"),
			Metrics: recorder,
		})
		if err != nil {
			logger.Error("failed to configure live service", "error", err)
			os.Exit(1)
		}
		handler.Live = liveService
	} else {
		logger.Warn("no google oauth provider configured; live endpoints disabled")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer sessionPurgeStop()

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("OPENAIR_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("OPENAIR_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:             resolveFloat(*globalRPS, "OPENAIR_RATE_GLOBAL_RPS"),
			GlobalBurst:           resolveInt(*globalBurst, "OPENAIR_RATE_GLOBAL_BURST"),
			LoginLimit:            resolveInt(*loginLimit, "OPENAIR_RATE_LOGIN_LIMIT"),
			LoginWindow:           resolveDuration(*loginWindow, "OPENAIR_RATE_LOGIN_WINDOW", time.Minute),
			RedisURL:              firstNonEmpty(*rateRedisURL, os.Getenv("OPENAIR_RATE_REDIS_URL")),
			RedisTimeout:          resolveDuration(*rateRedisTimeout, "OPENAIR_RATE_REDIS_TIMEOUT", 2*time.Second),
			TrustForwardedHeaders: resolveBool(*trustForwarded, "OPENAIR_RATE_TRUST_FORWARDED_HEADERS"),
			TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("OPENAIR_RATE_TRUSTED_PROXIES"))),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("OPENAIR_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("OpenAir Live API listening", "addr", listenAddr, "mode", serverMode)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

func findProvider(configs []oauth.ProviderConfig, name string) (oauth.ProviderConfig, bool) {
	for _, cfg := range configs {
		if strings.EqualFold(cfg.Name, name) {
			return cfg, true
		}
	}
	return oauth.ProviderConfig{}, false
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
	URL    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, sessionDSN, redisURL string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN = strings.TrimSpace(sessionDSN)
	redisURL = strings.TrimSpace(redisURL)
	if driver == "" {
		switch {
		case redisURL != "":
			driver = "redis"
		case sessionDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storageDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	case "redis":
		if redisURL == "" {
			return sessionStoreConfig{}, fmt.Errorf("redis session store selected without URL")
		}
		return sessionStoreConfig{Driver: "redis", URL: redisURL}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, postgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(postgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("OPENAIR_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
