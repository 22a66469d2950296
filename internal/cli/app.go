package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sdko-org/analytics-dashboard/internal/config"
	"github.com/sdko-org/analytics-dashboard/internal/database"
	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sdko-org/analytics-dashboard/internal/export"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sdko-org/analytics-dashboard/internal/metrics"
	"github.com/sdko-org/analytics-dashboard/internal/policy"
	"github.com/sdko-org/analytics-dashboard/internal/query"
	"github.com/sdko-org/analytics-dashboard/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AppContext holds the shared dependencies of the CLI commands.
type AppContext struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *endpoint.Registry
	Store    *store.Store
	Queries  *query.Client
	Metrics  metrics.Recorder

	// Optional integrations, nil when not configured.
	DB       *gorm.DB
	Repo     *database.Repository
	Exporter *export.S3Exporter

	otel   *metrics.OTel
	cancel context.CancelFunc
}

type appOptions struct {
	persistence bool
}

type appOption func(*appOptions)

// withPersistence connects the database and object storage when they are
// configured.
func withPersistence() appOption {
	return func(o *appOptions) { o.persistence = true }
}

// NewAppContext wires the query cache from cfg.
func NewAppContext(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...appOption) (*AppContext, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	refetch, err := policy.FromConfig(cfg.RefetchPolicy, cfg.CacheTTL, cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("configuring refetch policy: %w", err)
	}

	fetcher, err := fetch.NewClient(logger, cfg.APIBaseURL,
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithRateLimit(cfg.UpstreamRateLimit, cfg.UpstreamBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fetch client: %w", err)
	}

	app := &AppContext{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics.Noop{},
	}

	if cfg.OTelEnabled {
		otel, err := metrics.NewOTLPExporter(ctx, metrics.Config{
			Enabled:  cfg.OTelEnabled,
			Endpoint: cfg.OTelEndpoint,
			Insecure: cfg.OTelInsecure,
		})
		if err != nil {
			logger.WithError(err).Warn("Metrics export disabled")
		} else {
			app.otel = otel
			app.Metrics = otel
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	app.Store = store.New(storeCtx, logger,
		store.WithRetention(cfg.CacheRetention),
		store.WithMetrics(app.Metrics),
	)
	app.Queries = query.NewClient(logger, registry, app.Store, fetcher,
		query.WithPolicy(refetch),
		query.WithMetrics(app.Metrics),
	)

	if !o.persistence {
		return app, nil
	}

	if cfg.DatabaseEnabled() {
		db, err := database.NewPostgresDB(logger, database.PostgresConfig{
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			DBName:   cfg.PostgresDatabase,
			SSLMode:  cfg.PostgresSSLMode,
		})
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.DB = db
		app.Repo = database.NewRepository(db)
	}

	if cfg.ExportEnabled() {
		var saver export.MetadataSaver
		if app.Repo != nil {
			saver = app.Repo
		}
		exporter, err := export.NewS3Exporter(logger, export.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, saver)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.Exporter = exporter
	}

	return app, nil
}

func loadRegistry(cfg *config.Config) (*endpoint.Registry, error) {
	descriptors := endpoint.DefaultDescriptors()
	if cfg.EndpointsFile != "" {
		loaded, err := endpoint.LoadFile(cfg.EndpointsFile)
		if err != nil {
			return nil, err
		}
		descriptors = loaded
	}

	registry := endpoint.NewRegistry()
	if err := registry.RegisterAll(descriptors); err != nil {
		return nil, fmt.Errorf("registering endpoints: %w", err)
	}
	return registry, nil
}

// Close cancels in-flight fetches and releases the optional integrations.
func (a *AppContext) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []string
	if a.otel != nil {
		if err := a.otel.Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing app: %s", strings.Join(errs, "; "))
	}
	return nil
}

func newLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", format)
	}
	return logger, nil
}
