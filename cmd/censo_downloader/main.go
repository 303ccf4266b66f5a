package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/censo_downloader/internal/archive"
	"github.com/italolelis/censo_downloader/internal/ces"
	"github.com/italolelis/censo_downloader/internal/cleanup"
	"github.com/italolelis/censo_downloader/internal/config"
	"github.com/italolelis/censo_downloader/internal/fetch"
	"github.com/italolelis/censo_downloader/internal/fleet"
	"github.com/italolelis/censo_downloader/internal/integrity"
	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/notifier"
	"github.com/italolelis/censo_downloader/internal/storage"
	"github.com/italolelis/censo_downloader/internal/storage/sqlite"
	"github.com/italolelis/censo_downloader/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("censo downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		server := setupMetricsServer(ctx, tel, cfg)

		go func() {
			logger.Info("serving metrics", "host", cfg.MetricsAddr)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the metrics server", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Ledger
	ledger, closeLedger, err := setupLedger(cfg, tel)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer closeLedger()

	// =========================================================================
	// Sweep interrupted writes
	if _, err := cleanup.DeleteStaleTempFiles(ctx, cfg.InputDir, cfg.TempFileMaxAge); err != nil {
		logger.Warn("failed to delete stale temp files", "dir", cfg.InputDir, "err", err)
	}

	// =========================================================================
	// Build Pipeline
	digests, err := loadDigests(cfg)
	if err != nil {
		return err
	}

	fetcher, err := fetch.NewClient(cfg.FetchOptions(), tel)
	if err != nil {
		return fmt.Errorf("failed to build fetcher: %w", err)
	}

	pool := archive.NewPool(cfg.ExtractWorkers)
	defer pool.Close()

	pipeline := ces.NewPipeline(fetcher, pool, digests, storage.NewStore(cfg.InputDir), tel)

	opts := []fleet.Option{}
	if ledger != nil {
		opts = append(opts, fleet.WithLedger(ledger))
	}

	orchestrator := fleet.New(pipeline, cfg.MaxParallel, opts...)

	// =========================================================================
	// Run
	logger.Info("ensuring microdata",
		"input_dir", cfg.InputDir,
		"base_url", cfg.BaseURL,
		"max_parallel", cfg.MaxParallel,
	)

	report, runErr := orchestrator.EnsureAll(ctx, cfg.Years)
	if report == nil {
		return runErr
	}

	summary := notifier.Summary(report)
	logger.Info("run finished", "summary", summary)

	if cfg.DiscordWebhookURL != "" {
		notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

		if err := notif.Notify(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}

	return runErr
}

func setupLedger(cfg *config.Config, tel *telemetry.Telemetry) (storage.Ledger, func(), error) {
	if cfg.LedgerPath == "" {
		return nil, func() {}, nil
	}

	database, err := sqlite.InitDB(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}

	return sqlite.NewInstrumentedLedgerRepository(database, tel), closer(database), nil
}

func closer(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close ledger", "err", err)
		}
	}
}

func loadDigests(cfg *config.Config) (*integrity.Digests, error) {
	digests := integrity.Builtin()

	if cfg.DigestManifest == "" {
		return digests, nil
	}

	merged, err := integrity.LoadManifest(cfg.DigestManifest, digests)
	if err != nil {
		return nil, fmt.Errorf("failed to load digest manifest: %w", err)
	}

	return merged, nil
}

// setupMetricsServer exposes the prometheus registry.
func setupMetricsServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
