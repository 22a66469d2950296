package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/analytics-dashboard/internal/cache"
	"github.com/sdko-org/analytics-dashboard/internal/handlers"
	httpserver "github.com/sdko-org/analytics-dashboard/internal/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard HTTP API",
	Long: `Start the dashboard HTTP API.

Routes:
  GET  /tables/{endpoint}                 formatted table, cached
  GET  /api/endpoints                     registered endpoints and cache state
  POST /admin/cache/invalidate?endpoint=  mark an entry stale
  POST /admin/cache/refetch/{endpoint}    refetch now
  POST /admin/export/{endpoint}           upload a snapshot to S3
  GET  /admin/exports/{endpoint}          recent snapshot uploads
  GET  /healthz`,
	RunE: runServe,
}

var servePrefetch bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&servePrefetch, "prefetch", false, "Warm every registered endpoint before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewAppContext(ctx, cfg, logger, withPersistence())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	if servePrefetch {
		prefetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		if err := app.Queries.Prefetch(prefetchCtx, app.Registry.Keys()...); err != nil {
			logger.WithError(err).Warn("Prefetch incomplete")
		}
		cancel()
	}

	var pruner cache.AccessLogPruner
	var sink handlers.AccessLogSink
	var opts []handlers.Option
	if app.Repo != nil {
		pruner = app.Repo
		sink = app.Repo
		opts = append(opts, handlers.WithExportLister(app.Repo))
	}
	if app.Exporter != nil {
		opts = append(opts, handlers.WithExporter(app.Exporter))
	}

	purger := cache.NewCachePurger(logger, app.Store, pruner, cache.PurgerConfig{
		Interval:           cfg.CachePurgeInterval,
		Retention:          cfg.CacheRetention,
		AccessLogRetention: cfg.AccessLogRetention,
	})
	go purger.Start(ctx)

	limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, sink))
	r.Use(limiter.Middleware)
	dh := handlers.NewDashboardHandler(logger, app.Queries, app.Registry, cfg.FetchTimeout, opts...)
	handlers.RegisterRoutes(r, dh, app.Store)

	return httpserver.Run(ctx, logger, r, httpserver.Config{
		Addr:            cfg.ListenAddr,
		TLSAddr:         cfg.TLSListenAddr,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    cfg.FetchTimeout + 5*time.Second,
		ShutdownTimeout: 10 * time.Second,
	})
}
