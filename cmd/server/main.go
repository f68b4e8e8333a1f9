// Command server starts the Litecast API and broadcast engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"litecast/internal/api"
	"litecast/internal/auth"
	"litecast/internal/engine"
	"litecast/internal/observability/logging"
	"litecast/internal/observability/metrics"
	"litecast/internal/server"
	"litecast/internal/serverutil"
	"litecast/internal/storage"
	"litecast/internal/telemetry"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	mediaDir := flag.String("media-dir", "", "directory for uploaded media files")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "absolute session lifetime")
	sessionIdleTimeout := flag.Duration("session-idle-timeout", 0, "idle timeout for session refresh, 0 disables")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	encoderBinary := flag.String("encoder-binary", "", "encoder executable (defaults to ffmpeg on PATH)")
	engineTempDir := flag.String("engine-temp-dir", "", "directory for session playlist manifests")
	statsInterval := flag.Duration("stats-interval", 0, "interval between telemetry stats events")
	usageBatchSeconds := flag.Int64("usage-batch-seconds", 0, "usage seconds accumulated before a quota commit")
	telemetryQueueDriver := flag.String("telemetry-queue-driver", "", "telemetry queue driver (memory or redis)")
	telemetryRedisAddr := flag.String("telemetry-redis-addr", "", "Redis address for the telemetry queue")
	telemetryRedisAddrs := flag.String("telemetry-redis-addrs", "", "comma separated Redis addresses for the telemetry queue")
	telemetryRedisUsername := flag.String("telemetry-redis-username", "", "Redis username for the telemetry queue")
	telemetryRedisPassword := flag.String("telemetry-redis-password", "", "Redis password for the telemetry queue")
	telemetryRedisStream := flag.String("telemetry-redis-stream", "", "Redis stream key for telemetry events")
	telemetryRedisGroup := flag.String("telemetry-redis-group", "", "Redis consumer group for telemetry events")
	telemetryRedisMasterName := flag.String("telemetry-redis-sentinel-master", "", "Redis sentinel master name for the telemetry queue")
	telemetryRedisPoolSize := flag.Int("telemetry-redis-pool-size", 0, "maximum Redis connections for the telemetry queue")
	telemetryRedisTLSCA := flag.String("telemetry-redis-tls-ca", "", "path to Redis TLS CA certificate for the telemetry queue")
	telemetryRedisTLSCert := flag.String("telemetry-redis-tls-cert", "", "path to Redis TLS client certificate for the telemetry queue")
	telemetryRedisTLSKey := flag.String("telemetry-redis-tls-key", "", "path to Redis TLS client key for the telemetry queue")
	telemetryRedisTLSServerName := flag.String("telemetry-redis-tls-server-name", "", "override Redis TLS server name for the telemetry queue")
	telemetryRedisTLSSkipVerify := flag.Bool("telemetry-redis-tls-skip-verify", false, "skip Redis TLS verification for the telemetry queue")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LITECAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LITECAST_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("LITECAST_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("LITECAST_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("LITECAST_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("LITECAST_TLS_KEY"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("LITECAST_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var (
		store              storage.Repository
		storagePostgresDSN string
	)
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("LITECAST_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		storagePostgresDSN = postgresDefaultDSN
		if storagePostgresDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "LITECAST_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "LITECAST_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "LITECAST_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "LITECAST_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "LITECAST_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "LITECAST_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("LITECAST_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(storagePostgresDSN, pgOptions...)
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
		os.Getenv("LITECAST_SESSION_STORE"),
		driver,
		storagePostgresDSN,
		*sessionPostgresDSN,
		os.Getenv("LITECAST_SESSION_POSTGRES_DSN"),
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
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = func(ctx context.Context) error { return pgStore.Close(ctx) }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessionOptions := []auth.SessionOption{auth.WithStore(sessionStore)}
	if idle := resolveDuration(*sessionIdleTimeout, "LITECAST_SESSION_IDLE_TIMEOUT", 0); idle > 0 {
		sessionOptions = append(sessionOptions, auth.WithIdleTimeout(idle))
	}
	sessions := auth.NewSessionManager(
		resolveDuration(*sessionTTL, "LITECAST_SESSION_TTL", 7*24*time.Hour),
		sessionOptions...,
	)

	queueCfg := telemetry.RedisQueueConfig{
		Addr:       firstNonEmpty(*telemetryRedisAddr, os.Getenv("LITECAST_TELEMETRY_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*telemetryRedisAddrs, os.Getenv("LITECAST_TELEMETRY_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*telemetryRedisUsername, os.Getenv("LITECAST_TELEMETRY_REDIS_USERNAME")),
		Password:   firstNonEmpty(*telemetryRedisPassword, os.Getenv("LITECAST_TELEMETRY_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*telemetryRedisStream, os.Getenv("LITECAST_TELEMETRY_REDIS_STREAM")),
		Group:      firstNonEmpty(*telemetryRedisGroup, os.Getenv("LITECAST_TELEMETRY_REDIS_GROUP")),
		MasterName: firstNonEmpty(*telemetryRedisMasterName, os.Getenv("LITECAST_TELEMETRY_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*telemetryRedisPoolSize, "LITECAST_TELEMETRY_REDIS_POOL_SIZE"),
		TLS: telemetry.RedisTLSConfig{
			CAFile:             firstNonEmpty(*telemetryRedisTLSCA, os.Getenv("LITECAST_TELEMETRY_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*telemetryRedisTLSCert, os.Getenv("LITECAST_TELEMETRY_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*telemetryRedisTLSKey, os.Getenv("LITECAST_TELEMETRY_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*telemetryRedisTLSServerName, os.Getenv("LITECAST_TELEMETRY_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*telemetryRedisTLSSkipVerify, "LITECAST_TELEMETRY_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	queue, err := configureTelemetryQueue(*telemetryQueueDriver, queueCfg, logger)
	if err != nil {
		logger.Error("failed to configure telemetry queue", "error", err)
		os.Exit(1)
	}
	hub := telemetry.NewHub(telemetry.HubConfig{
		Queue:   queue,
		Logger:  logging.WithComponent(logger, "telemetry"),
		Metrics: recorder,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go hub.Run(workerCtx)
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer sessionPurgeStop()

	eng, err := engine.New(engine.Config{
		Runner:            engine.ExecRunner{},
		Usage:             store,
		Sink:              hub,
		Logger:            logging.WithComponent(logger, "engine"),
		Metrics:           recorder,
		EncoderBinary:     firstNonEmpty(*encoderBinary, os.Getenv("LITECAST_ENCODER_BINARY")),
		TempDir:           firstNonEmpty(*engineTempDir, os.Getenv("LITECAST_ENGINE_TEMP_DIR")),
		StatsInterval:     resolveDuration(*statsInterval, "LITECAST_STATS_INTERVAL", 0),
		UsageBatchSeconds: resolveInt64(*usageBatchSeconds, "LITECAST_USAGE_BATCH_SECONDS"),
	})
	if err != nil {
		logger.Error("failed to initialise broadcast engine", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, sessions)
	handler.Engine = eng
	handler.Hub = hub
	handler.Metrics = recorder
	handler.MediaDir = resolveMediaDir(*mediaDir, os.Getenv("LITECAST_MEDIA_DIR"))

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "LITECAST_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "LITECAST_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "LITECAST_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "LITECAST_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("LITECAST_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("LITECAST_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "LITECAST_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("LITECAST_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
		TLS:         server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Litecast API listening", "addr", listenAddr, "mode", serverMode)
	if tlsCertPath != "" && tlsKeyPath != "" {
		logger.Info("TLS enabled", "cert_file", tlsCertPath)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	certFile, keyFile := srv.TLSFiles()
	runErr := serverutil.Run(runCtx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: certFile, KeyFile: keyFile},
		ShutdownTimeout: 10 * time.Second,
	})
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server error", "error", runErr)
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eng.Close(ctx); err != nil {
		logger.Warn("broadcast engine shutdown incomplete", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}
	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}
	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close telemetry queue", "error", err)
		}
	}

	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
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
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func configureTelemetryQueue(driver string, cfg telemetry.RedisQueueConfig, logger *slog.Logger) (telemetry.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(os.Getenv("LITECAST_TELEMETRY_QUEUE_DRIVER")))
	}
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for telemetry queue")
		}
		cfg.Logger = logging.WithComponent(logger, "telemetry-queue")
		return telemetry.NewRedisQueue(cfg)
	case "", "memory":
		return telemetry.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported telemetry queue driver %q", driver)
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

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolveMediaDir(flagValue, envValue string) string {
	if dir := strings.TrimSpace(flagValue); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(envValue); dir != "" {
		return dir
	}
	return "data/media"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("LITECAST_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
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
	if fallback > 0 {
		return fallback
	}
	return 0
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
