// Package server assembles the archiver's dependencies and runs passes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/api"
	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/bypass"
	"github.com/JakeFAU/news-archiver/internal/clock/system"
	"github.com/JakeFAU/news-archiver/internal/config"
	"github.com/JakeFAU/news-archiver/internal/dispatcher"
	"github.com/JakeFAU/news-archiver/internal/enrich"
	"github.com/JakeFAU/news-archiver/internal/feed"
	"github.com/JakeFAU/news-archiver/internal/fetcher"
	collyfetcher "github.com/JakeFAU/news-archiver/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/news-archiver/internal/fetcher/headless"
	"github.com/JakeFAU/news-archiver/internal/hash/sha256"
	"github.com/JakeFAU/news-archiver/internal/id/uuid"
	"github.com/JakeFAU/news-archiver/internal/imagecache"
	"github.com/JakeFAU/news-archiver/internal/metrics"
	"github.com/JakeFAU/news-archiver/internal/policy/backoff"
	"github.com/JakeFAU/news-archiver/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/news-archiver/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/news-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/news-archiver/internal/sanitize"
	gcsstorage "github.com/JakeFAU/news-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/news-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/news-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/news-archiver/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/news-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/news-archiver/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Store is a persistence gateway that also serves reads.
type Store interface {
	archiver.ArticleStore
	archiver.ArticleReader
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     Store
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	headless  *headlessfetcher.Fetcher
	gcsClient *storage.Client
	pubsub    *gcppublisher.Publisher
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("images_backend", cfg.Images.Backend),
		zap.Int("sources", len(cfg.Sources)),
	)

	store, err := OpenStore(ctx, cfg.Storage, app.logger)
	if err != nil {
		return nil, err
	}
	app.store = store

	blobs, err := app.setupImages(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err := app.setupPipeline(blobs, publisher); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	pinger, _ := store.(api.Pinger)
	app.apiServer = api.NewServer(store, pinger, api.Config{APIKey: cfg.Server.APIKey}, logger.Named("api"))
	return app, nil
}

// OpenStore opens the configured persistence gateway.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			Migrate:         cfg.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres article store")
		return store, nil
	case config.DriverSQLite:
		store, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite article store", zap.String("path", cfg.SQLitePath))
		return store, nil
	case config.DriverMemory:
		logger.Warn("using in-memory article store, nothing will be persisted")
		return memorystorage.NewArticleStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (a *App) setupImages(ctx context.Context) (archiver.BlobStore, error) {
	switch a.cfg.Images.Backend {
	case config.ImagesGCS:
		var err error
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Images.Bucket,
			Prefix: a.cfg.Images.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS image backend", zap.String("bucket", a.cfg.Images.Bucket))
		return blobs, nil
	case config.ImagesLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Images.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local image backend", zap.String("path", a.cfg.Images.Dir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory image backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (archiver.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsub, nil
}

func (a *App) setupPipeline(blobs archiver.BlobStore, publisher archiver.Publisher) error {
	cfg := a.cfg
	clock := system.New()

	throttle := ratelimit.New(ratelimit.Config{MinInterval: cfg.HTTP.MinInterval})
	retry := backoff.New(backoff.Config{
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BaseDelay:   cfg.HTTP.BackoffBase,
		MaxDelay:    cfg.HTTP.BackoffMax,
	})
	transport := collyfetcher.New(collyfetcher.Config{
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	})
	fetch := fetcher.New(transport, throttle, retry, fetcher.Config{
		UserAgents: cfg.HTTP.UserAgents,
		Timeout:    cfg.HTTP.Timeout,
	}, a.logger)
	a.logger.Info("rate-limited fetcher ready",
		zap.Duration("min_interval", cfg.HTTP.MinInterval),
		zap.Int("max_attempts", retry.MaxAttempts()),
	)

	var headless archiver.Fetcher
	if cfg.Headless.Enabled {
		var err error
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SettleDelay:       cfg.Headless.SettleDelay,
		})
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		// One attempt per render; the browser is too expensive to retry.
		headless = fetcher.New(a.headless, throttle, backoff.New(backoff.Config{MaxAttempts: 1}), fetcher.Config{
			UserAgents: cfg.HTTP.UserAgents,
			Timeout:    cfg.Headless.NavTimeout,
		}, a.logger.Named("headless"))
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	reader := feed.New(fetch, feed.Config{
		RedirectorHosts:  cfg.Pipeline.RedirectorHosts,
		DescriptionLimit: cfg.Pipeline.DescriptionLimit,
		Timeout:          cfg.HTTP.Timeout,
	}, a.logger)
	images := imagecache.New(fetch, blobs, sha256.NewPrefix(sha256.CacheNameLength), a.logger)
	enricher := enrich.New(fetch, images, clock, enrich.Config{Timeout: cfg.HTTP.Timeout}, a.logger)
	resolver := bypass.New(fetch, headless, sanitize.New(), bypass.Config{
		MinChars:       cfg.Bypass.MinChars,
		Markers:        cfg.Bypass.Markers,
		RelayPrimary:   cfg.Bypass.RelayPrimary,
		RelaySecondary: cfg.Bypass.RelaySecondary,
		Timeout:        cfg.Bypass.Timeout,
	}, a.logger)

	workerCfg := worker.Config{
		Enrich: cfg.Pipeline.Enrich,
		Topic:  cfg.PubSub.TopicName,
	}
	a.logger.Info("worker config",
		zap.Bool("enrich", workerCfg.Enrich),
		zap.String("topic", workerCfg.Topic),
	)
	w := worker.New(reader, a.store, enricher, resolver, publisher, clock, workerCfg, a.logger)

	a.dispatch = dispatcher.New(w, a.store, uuid.New(), clock, dispatcher.Config{
		Concurrency: cfg.Pipeline.SourceConcurrency,
		Interval:    cfg.Pipeline.Interval,
	}, a.logger)
	return nil
}

// Reader exposes the read side of the configured store.
func (a *App) Reader() archiver.ArticleReader {
	return a.store
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce polls sources a single time.
func (a *App) RunOnce(ctx context.Context, sources []archiver.Source) (dispatcher.Summary, error) {
	summary, err := a.dispatch.RunOnce(ctx, sources)
	if err != nil {
		return summary, fmt.Errorf("run pass: %w", err)
	}
	return summary, nil
}

// RunContinuous polls sources until ctx is canceled, serving the ops endpoint
// alongside when server.port is set.
func (a *App) RunContinuous(ctx context.Context, sources []archiver.Source) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.logger.Info("continuous mode started", zap.Duration("interval", a.cfg.Pipeline.Interval))
	err := a.dispatch.RunContinuous(ctx, sources)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
			a.logger.Error("server shutdown error", zap.Error(shutErr))
		}
	}
	if err != nil {
		return fmt.Errorf("continuous run: %w", err)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("article store close failed", zap.Error(err))
		}
	}
}
