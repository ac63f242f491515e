// Package app assembles the HTTP API: optional extensions (database, redis, task broker),
// the RAG pipeline, and the routes serving them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/edgeflare/mimir/pkg/httputil/middleware"
	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/tasks"
	"go.uber.org/zap"
)

// App is the API application and the resources its extensions opened.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Router   *httputil.Router
	Pools    *pg.PoolManager
	Redis    *redisx.Wrapper
	Broker   tasks.Broker
	Pipeline *rag.Pipeline
	Storage  *storage.Storage

	extensions []Extension
	loaded     []Extension
}

type Option func(*App)

// WithPipeline enables /v1/query and synchronous ingestion.
func WithPipeline(p *rag.Pipeline) Option { return func(a *App) { a.Pipeline = p } }

// WithStorage sets where /v1/documents reads from. The default is STORAGE_TYPE.
func WithStorage(st *storage.Storage) Option { return func(a *App) { a.Storage = st } }

// WithExtensions replaces DefaultExtensions.
func WithExtensions(exts ...Extension) Option { return func(a *App) { a.extensions = exts } }

// WithRedis sets the wrapper the redis extension initializes. The default is redisx.Shared.
func WithRedis(w *redisx.Wrapper) Option { return func(a *App) { a.Redis = w } }

// WithRouterOptions builds the router from opts. Unmatched requests still get the JSON
// error body unless opts replace it.
func WithRouterOptions(opts ...httputil.RouterOptions) Option {
	return func(a *App) {
		a.Router = httputil.NewRouter(append([]httputil.RouterOptions{httputil.WithUnmatched(a.unmatched)}, opts...)...)
	}
}

// Create loads the enabled extensions in order and registers the routes. On failure the
// extensions loaded so far are closed.
func Create(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Pools:      pg.NewPoolManager(logger),
		Redis:      redisx.Shared,
		extensions: DefaultExtensions(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Router == nil {
		a.Router = httputil.NewRouter(append(routerOptions(cfg), httputil.WithUnmatched(a.unmatched))...)
	}

	for _, ext := range a.extensions {
		if !ext.IsEnabled(cfg) {
			if cfg.Debug {
				logger.Debug(fmt.Sprintf("skipped %s (disabled)", ext.Name()))
			}
			continue
		}
		extStart := time.Now()
		if err := ext.Init(ctx, a); err != nil {
			closeErr := a.Close()
			return nil, errors.Join(fmt.Errorf("load %s: %w", ext.Name(), err), closeErr)
		}
		a.loaded = append(a.loaded, ext)
		if cfg.Debug {
			logger.Debug(fmt.Sprintf("loaded %s (%d ms)", ext.Name(), time.Since(extStart).Milliseconds()))
		}
	}

	if a.Storage == nil {
		st, err := storage.New(cfg.StorageConfig)
		if err != nil {
			closeErr := a.Close()
			return nil, errors.Join(err, closeErr)
		}
		a.Storage = st
	}

	a.registerMiddleware()
	a.registerRoutes()

	if cfg.Debug {
		logger.Debug(fmt.Sprintf("finished create_app (%d ms)", time.Since(start).Milliseconds()))
	}
	return a, nil
}

func routerOptions(cfg *config.Config) []httputil.RouterOptions {
	opts := []httputil.RouterOptions{
		httputil.WithServerOptions(func(s *http.Server) {
			s.ReadTimeout = 30 * time.Second
			s.WriteTimeout = time.Duration(max(cfg.AppMaxExecutionTime, 30)) * time.Second
		}),
	}
	if cfg.TLSEnabled {
		opts = append(opts, httputil.WithTLS(cfg.TLSCertFile, cfg.TLSKeyFile))
	}
	return opts
}

func (a *App) registerMiddleware() {
	a.Router.Use(
		middleware.Recover(&middleware.RecoverOptions{Logger: a.Logger, OnPanic: a.onPanic}),
		middleware.RequestID,
		middleware.CORSWithOptions(&middleware.CORSOptions{
			AllowedOrigins:   a.Config.WebAPICORSAllowOrigins(),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           600,
		}),
	)
	if a.Config.EnableRequestLogging || a.Config.Debug {
		a.Router.Use(middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: a.Logger}))
	}
	// innermost, so it sees the pattern the mux matched
	a.Router.Use(middleware.Metrics)
}

// Handler returns the routed handler with all middleware applied.
func (a *App) Handler() http.Handler { return a.Router.Handler() }

// Serve listens on API_LISTEN_ADDR until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Router.ListenAndServe(a.Config.ListenAddr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Router.Shutdown(shutdownCtx)
	}
}

// Close closes the loaded extensions in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.loaded) - 1; i >= 0; i-- {
		ext := a.loaded[i]
		if err := ext.Close(a); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ext.Name(), err))
		}
		a.Logger.Debug("closed extension", zap.String("extension", ext.Name()))
	}
	a.loaded = nil
	return errors.Join(errs...)
}
