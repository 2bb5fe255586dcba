package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/gatehawk-security/gatehawk/internal/bus"
	"github.com/gatehawk-security/gatehawk/internal/config"
	"github.com/gatehawk-security/gatehawk/internal/correlation"
	"github.com/gatehawk-security/gatehawk/internal/handlers"
	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/normalizer"
	"github.com/gatehawk-security/gatehawk/internal/notification"
	"github.com/gatehawk-security/gatehawk/internal/ratelimit"
	"github.com/gatehawk-security/gatehawk/internal/repository"
	"github.com/gatehawk-security/gatehawk/internal/server"
	"github.com/gatehawk-security/gatehawk/internal/service"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gatehawk server",
	Long: `Start the HTTP server: webhook ingestion, the query API, and the
in-process correlation and notification consumers.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("gatehawk"))
	logging.SetDefault(logger)

	slog.Info("Starting gatehawk",
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.Database.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Event store
	var repo repository.Repository
	switch cfg.Database.Backend {
	case "postgres":
		slog.Info("Connecting to PostgreSQL")
		pgRepo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		repo = pgRepo

		slog.Info("Running database migrations")
		m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to initialize migrations: %w", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	case "memory":
		slog.Warn("Using in-memory event store, data is lost on restart")
		repo = repository.NewInMemoryRepository()
	}
	defer repo.Close()

	// Message bus
	var b bus.Bus
	if cfg.NATS.Enabled {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		b, err = bus.NewNATSBus(natsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		slog.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	} else {
		b = bus.NewInProcessBus(cfg.Ingestion.QueueDepth, logger)
	}
	defer b.Close()

	// Rate limiter
	var limiter ratelimit.RateLimiter
	if cfg.Redis.Enabled && cfg.Ingestion.RateLimitEnabled {
		limiter, err = ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
			false,
		)
		if err != nil {
			slog.Warn("Rate limiter unavailable, continuing without rate limiting",
				slog.String("error", err.Error()))
			limiter = &ratelimit.NoOpRateLimiter{}
		} else {
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.Ingestion.RateLimitRequests),
				slog.String("window", cfg.Ingestion.RateLimitWindow.String()))
		}
	} else {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	defer limiter.Close()

	// Async consumers
	engine := correlation.New(repo, cfg.Correlation.Window, logger)
	dispatcher := notification.NewDispatcher(repo, notification.Config{
		Timeout:        cfg.Notifications.Timeout,
		MaxAttempts:    cfg.Notifications.MaxAttempts,
		InitialBackoff: cfg.Notifications.InitialBackoff,
	}, logger)
	if err := service.RegisterConsumers(b, engine, dispatcher, logger); err != nil {
		return err
	}

	// Ingestion pipeline
	ingestService := service.NewIngestService(
		repo,
		normalizer.NewRegistry(normalizer.NewAccess(), normalizer.NewProtect()),
		map[models.Source]*signature.Verifier{
			models.SourceAccess:  signature.NewVerifier(cfg.Sources.Access.Secret),
			models.SourceProtect: signature.NewVerifier(cfg.Sources.Protect.Secret),
		},
		b,
		logger,
	)

	handler := handlers.New(ingestService, repo, limiter, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gatehawk listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		slog.Info("Shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}
