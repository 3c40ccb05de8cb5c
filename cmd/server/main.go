package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-progress/internal/api"
	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/platform/otel"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	courses, err := catalog.NewLoader(cfg.Catalog.Path)
	if err != nil {
		slog.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("catalog loaded", "courses", len(courses.AllCourses()))

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer backend.close()

	lang, err := language.Parse(cfg.Report.Language)
	if err != nil {
		slog.Warn("invalid report language, using English", "language", cfg.Report.Language, "error", err)
		lang = language.English
	}

	svc := progress.NewService(progress.ServiceConfig{
		Store:   backend.store,
		Catalog: courses,
		Locker:  backend.locker,
		Events:  backend.events,
	})
	handler := api.NewHandler(api.HandlerConfig{
		Service:        svc,
		ReportLanguage: lang,
		Checks:         backend.checks,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newMux(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Driver, "cache", cfg.Cache.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown error", "error", err)
	}
}

// newMux creates the HTTP router with health and progress endpoints.
func newMux(h *api.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// newLogger builds the process logger from LEARN_LOG_* settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// backend bundles the storage-side dependencies chosen by configuration.
type backend struct {
	store   progress.Store
	events  progress.EventLogger
	locker  progress.KeyLocker
	checks  map[string]api.Check
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{
		events: progress.NopEventLogger{},
		locker: progress.NewLocalLocker(),
		checks: map[string]api.Check{},
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.Open(ctx, database.PostgresOptions{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		store, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = store
		b.events = progress.NewPostgresEventLogger(db.Pool)
		b.checks["database"] = db.Ping

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		store, err := progress.NewSQLiteStore(db)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = store
		b.events = progress.NewSQLiteEventLogger(db)
		b.checks["database"] = db.PingContext

	default:
		b.store = progress.NewMemoryStore()
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL, cache.DefaultNamespace)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = c.Close() })
		b.locker = cache.NewLocker(c, cfg.Cache.LockTTL)
		b.checks["cache"] = c.Ping
	}

	return b, nil
}
