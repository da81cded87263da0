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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/timetrail/internal/api"
	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/mcpserver"
	"github.com/starford/timetrail/internal/reconcile"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/sse"
	"github.com/starford/timetrail/internal/suggest"
	"github.com/starford/timetrail/internal/tracker"
	"github.com/starford/timetrail/internal/watcher"
)

// App holds the wired components. Close releases the ledger.
type App struct {
	Config     *Config
	Logger     *slog.Logger
	Ledger     *ledger.DB
	Matcher    *matcher.Matcher
	Tracker    *tracker.Service
	Suggest    *suggest.Engine
	Reconciler *reconcile.Reconciler
	Reports    *report.Generator
	Broker     *sse.Broker
}

// Open loads the ledger and builds every component except the watcher and
// the HTTP server.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	a := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	m, err := matcher.New(
		matcher.WithCache(cfg.Matcher.CacheSize, cfg.Matcher.CacheTTL),
		matcher.WithLogger(logger),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	// A broken mapping file disables explicit mappings only.
	if err := m.Reload(cfg.Matcher.MappingFile); err != nil {
		logger.Warn("mapping file ignored",
			slog.String("path", cfg.Matcher.MappingFile),
			slog.String("error", err.Error()))
	}
	if err := m.Refresh(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)

	recOpts := []reconcile.Option{
		reconcile.WithDepth(cfg.Commits.ScanDepth),
		reconcile.WithWorkers(cfg.Commits.Workers),
		reconcile.WithLogger(logger),
	}
	if a.workDir != "" {
		recOpts = append(recOpts, reconcile.WithWorkDir(a.workDir))
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Ledger:  db,
		Matcher: m,
		Tracker: tracker.New(db, m, tracker.WithPublisher(broker), tracker.WithLogger(logger)),
		Suggest: suggest.New(db, m,
			suggest.WithThreshold(cfg.Suggestions.ConfidenceThreshold),
			suggest.WithWindow(cfg.Suggestions.Window),
			suggest.WithHalfLife(cfg.Suggestions.HalfLife),
			suggest.WithLogger(logger)),
		Reconciler: reconcile.New(db, recOpts...),
		Reports:    report.New(db),
		Broker:     broker,
	}, nil
}

// Close stops the broker and closes the ledger.
func (app *App) Close() error {
	app.Broker.Close()
	return app.Ledger.Close()
}

func (app *App) watchDirs() []string {
	if len(app.Config.Watcher.Directories) > 0 {
		return app.Config.Watcher.Directories
	}
	return watcher.DefaultDirectories()
}

func (app *App) newWatcher() (*watcher.Watcher, error) {
	// The ledger lives under a watched root on many setups.
	ignore := append([]string{filepath.Base(app.Config.SQLite.Path)}, app.Config.Watcher.Ignore...)
	return watcher.New(app.Ledger, app.Matcher,
		watcher.WithDebounce(app.Config.Watcher.Debounce),
		watcher.WithIgnore(ignore...),
		watcher.WithLogger(app.Logger),
		watcher.WithOnActivity(app.Broker.PublishActivity),
	)
}

func (app *App) handler() http.Handler {
	cfg := app.Config
	apiRouter := api.NewRouter(api.Services{
		Sessions:    app.Tracker,
		Suggestions: app.Suggest,
		Commits:     app.Reconciler,
		Reports:     app.Reports,
		Activity:    app.Ledger,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, app.Broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := app.Ledger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	return r
}

// Run starts the watcher, the mapping reloader, periodic commit sync and the
// HTTP server, and blocks until a shutdown signal or a fatal error.
func Run(ctx context.Context, opts ...Option) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	logger := app.Logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("mapping_file", cfg.Matcher.MappingFile),
		slog.String("log_level", cfg.App.LogLevel.String()))

	w, err := app.newWatcher()
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           app.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// A watcher that cannot start disables activity capture only.
	g.Go(func() error {
		if err := w.Run(gCtx, app.watchDirs()); err != nil {
			logger.Error("activity watcher disabled",
				slog.Bool("config", errors.Is(err, apperr.ErrConfig)),
				slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		if err := app.Matcher.WatchMappings(gCtx, cfg.Matcher.MappingFile); err != nil {
			logger.Warn("mapping reload disabled", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		return app.Reconciler.Run(gCtx, cfg.Commits.SyncInterval)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
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

// RunMCP serves the MCP tools over stdio. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := mcpserver.New(app.Tracker, app.Suggest, app.Reconciler, app.Reports)
	app.Logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}
