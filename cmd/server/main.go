package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/appy-one/acebase-server-sub001/internal/api"
	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/config"
	"github.com/appy-one/acebase-server-sub001/internal/oauth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
	"github.com/appy-one/acebase-server-sub001/internal/token"
	"github.com/appy-one/acebase-server-sub001/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	// The token salt keys every issued token; without it no session can
	// be validated, so failure to load or create it is fatal.
	salt, err := token.LoadOrCreateSalt(cfg.DataDir)
	if err != nil {
		slog.Error("failed to load token salt", "error", err)
		os.Exit(1)
	}

	store := storage.NewMemoryStore()

	engine, err := rules.NewEngine(cfg.RulesFile, cfg.AuthEnabled, cfg.DefaultAccess)
	if err != nil {
		slog.Error("failed to initialize access rules", "file", cfg.RulesFile, "error", err)
		os.Exit(1)
	}
	defer engine.Stop()

	sink, auditLog := setupAudit(cfg)

	cache := setupSessionCache(cfg)

	repo := auth.NewStoreRepository(store)
	service := auth.NewService(repo, cache, sink, salt)
	if cfg.AuthEnabled {
		if err := service.BootstrapAdmin(context.Background()); err != nil {
			slog.Error("failed to bootstrap admin account", "error", err)
			os.Exit(1)
		}
	}

	providers := oauth.NewRegistry()

	broker := ws.NewBroker(store, engine, service, ws.NewRegistry(), sink, cfg.TxnTimeout)
	socket := ws.NewServer(broker)

	router := api.NewRouter(api.RouterDeps{
		Service:     service,
		Store:       store,
		Engine:      engine,
		Providers:   providers,
		Socket:      socket,
		AuditLog:    auditLog,
		DBName:      cfg.DbName,
		Version:     cfg.Version,
		AuthEnabled: cfg.AuthEnabled,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting gateway", "port", cfg.Port, "db", cfg.DbName, "version", cfg.Version, "auth_enabled", cfg.AuthEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// setupAudit always returns a slog-backed sink; when AUDIT_DATABASE_URL
// is set it fans out to a durable Postgres sink as well, which also
// serves the logs endpoint.
func setupAudit(cfg *config.Config) (audit.Sink, *audit.PostgresSink) {
	if cfg.AuditDatabaseURL == "" {
		return audit.SlogSink{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		slog.Warn("audit database unavailable; falling back to log-only audit", "error", err)
		return audit.SlogSink{}, nil
	}
	pg, err := audit.NewPostgresSink(ctx, pool)
	if err != nil {
		slog.Warn("audit table initialization failed; falling back to log-only audit", "error", err)
		pool.Close()
		return audit.SlogSink{}, nil
	}
	return audit.MultiSink{audit.SlogSink{}, pg}, pg
}

func setupSessionCache(cfg *config.Config) auth.SessionCache {
	if cfg.RedisAddr == "" {
		return auth.NewMemoryCache(cfg.SessionCacheSize, cfg.SessionCacheTTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	slog.Info("using redis session cache", "addr", cfg.RedisAddr)
	return auth.NewRedisCache(client, cfg.SessionCacheTTL)
}
