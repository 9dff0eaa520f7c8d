// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/api"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/inbox"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/metrics"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/sse"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/storage"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/store"
)

// Components are the wired services shared by the HTTP server and the
// one-shot CLI commands.
type Components struct {
	Config  *Config
	Logger  *slog.Logger
	DB      *store.DB
	Blobs   storage.Provider
	Broker  *sse.Broker
	Metrics *metrics.Metrics
	Service *assessment.Service
}

// Open builds every component from the configuration. Callers must Close
// the result.
func Open(ctx context.Context, opts ...Option) (*Components, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := NewLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.Int("import_concurrency", cfg.Import.Concurrency),
		slog.Bool("inbox_watch", cfg.Import.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	blobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)
	m := metrics.New(broker.ClientCount)

	svc := assessment.NewService(db, catalog.Default(),
		assessment.WithBlobs(blobs),
		assessment.WithPublisher(broker),
		assessment.WithRecorder(m),
		assessment.WithLogger(logger),
		assessment.WithConcurrency(cfg.Import.Concurrency),
		assessment.WithBackupBeforeImport(cfg.Import.BackupBefore),
	)

	return &Components{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Blobs:   blobs,
		Broker:  broker,
		Metrics: m,
		Service: svc,
	}, nil
}

func openBlobs(ctx context.Context, cfg StorageConfig) (storage.Provider, error) {
	if cfg.Driver == StorageDriverS3 {
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	}
	return storage.NewFS(cfg.Path)
}

// Close stops the event broker and closes the database.
func (c *Components) Close() error {
	c.Broker.Close()
	return c.DB.Close()
}

// Router builds the HTTP handler: health probes, metrics and the API.
func (c *Components) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := c.Service.Ready(req.Context()); err != nil {
			c.Logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", c.Metrics.Handler())

	r.Mount("/api", api.NewRouter(c.Service, c.Config.Auth.AuthEnabled(), c.Config.Auth.Token, c.Broker, c.Broker))
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.Logger.Error("close failed", slog.String("error", err.Error()))
		}
	}()

	cfg := c.Config
	logger := c.Logger

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           c.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	// Inbox watcher; imports report progress to SSE clients.
	if cfg.Import.Watch {
		w, err := inbox.New(cfg.Import.InboxPath, c.Service,
			inbox.WithLogger(logger),
			inbox.WithDebounce(cfg.Import.Debounce),
			inbox.WithProgress(func(p assessment.Progress) {
				c.Broker.PublishProgress(p.Percent, p.Status)
			}),
		)
		if err != nil {
			return fmt.Errorf("init inbox: %w", err)
		}
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		logger.Info("Shutting down server...")

		// Event streams never go idle; end them first.
		c.Broker.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
