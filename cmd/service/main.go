// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"forge-issues/internal/api"
	"forge-issues/internal/config"
	"forge-issues/internal/database"
	"forge-issues/internal/hosts"
	"forge-issues/internal/jobs"
	"forge-issues/internal/repometa"
	"forge-issues/internal/syncer"
)

// tokenCheckInterval is how often the GitHub token pool is probed for
// revoked or suspended tokens.
const tokenCheckInterval = time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	store := database.New(dbpool).WithChunkSize(cfg.UpsertChunkSize)

	// 5. Initialize host adapters and the directory client
	githubAdapter := hosts.NewGitHub(hosts.NewTokenPool(cfg.GithubTokens), logger)
	registry := hosts.NewRegistry(
		githubAdapter,
		hosts.NewGitLab(cfg.GitlabToken, logger),
		hosts.NewGitea(cfg.GiteaToken, cfg.RequestTimeout, logger),
	)
	repoMeta := repometa.New(cfg.ReposAPIURL, cfg.LookupTimeout, logger)

	appSyncer := syncer.NewSyncer(store, registry, repoMeta, logger, cfg.SyncBatchLimit, cfg.SyncInterval)
	if err := appSyncer.SyncHosts(ctx); err != nil {
		logger.Warn("Initial host directory sync failed", "error", err)
	}

	// 6. Connect the job queue and start the worker
	queue, err := jobs.NewNATSQueue(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer queue.Close()

	jobService := jobs.NewService(store, queue, repoMeta, appSyncer, logger)
	if err := jobService.Start(ctx); err != nil {
		return err
	}

	// 7. Start the syncer and the token probe in the background
	go appSyncer.Start(ctx)
	go probeTokens(ctx, githubAdapter, logger)

	// 8. Start the HTTP API
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(store, jobService, cfg.ArchiveBaseURL, logger),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// 9. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

// probeTokens periodically evicts dead tokens from the GitHub pool.
func probeTokens(ctx context.Context, adapter *hosts.GitHub, logger *slog.Logger) {
	ticker := time.NewTicker(tokenCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			adapter.CheckTokens(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
