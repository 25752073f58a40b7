// Package server builds the mirror's dependencies and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/api"
	"github.com/JakeFAU/xkcd-mirror/internal/clock/system"
	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/config"
	collyfetcher "github.com/JakeFAU/xkcd-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/xkcd-mirror/internal/hash/sha256"
	"github.com/JakeFAU/xkcd-mirror/internal/id/uuid"
	"github.com/JakeFAU/xkcd-mirror/internal/logging"
	"github.com/JakeFAU/xkcd-mirror/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/xkcd-mirror/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/xkcd-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/xkcd-mirror/internal/query"
	"github.com/JakeFAU/xkcd-mirror/internal/source/xkcd"
	gcsstorage "github.com/JakeFAU/xkcd-mirror/internal/storage/gcs"
	localstorage "github.com/JakeFAU/xkcd-mirror/internal/storage/local"
	memorystorage "github.com/JakeFAU/xkcd-mirror/internal/storage/memory"
	"github.com/JakeFAU/xkcd-mirror/internal/store/jsonfile"
	pgstore "github.com/JakeFAU/xkcd-mirror/internal/store/postgres"
	"github.com/JakeFAU/xkcd-mirror/internal/syncer"
	"github.com/JakeFAU/xkcd-mirror/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	syncer    *syncer.Syncer

	// baseCtx bounds background synchronizations; cancelBase stops them.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	storage   *storage.Client
	publisher *gcppublisher.Publisher
	pgStore   *pgstore.Store
	tracer    *sdktrace.TracerProvider
}

// Build creates the application's dependencies. The logger is owned by the
// caller; App.Close syncs but does not replace it.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("metadata_backend", cfg.Metadata.Backend),
	)

	baseCtx, cancel := context.WithCancel(ctx)
	app := &App{cfg: cfg, logger: logger, baseCtx: baseCtx, cancelBase: cancel}

	if err := app.build(ctx); err != nil {
		closeCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, logging.ServiceName)
	if err != nil {
		return fmt.Errorf("tracer provider init failed: %w", err)
	}
	a.tracer = tp

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	metadata, err := a.setupMetadata(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	source, err := a.setupSource(blobs)
	if err != nil {
		return err
	}

	ids := uuid.New()
	a.syncer, err = syncer.New(
		syncer.Config{Topic: syncer.DefaultTopic},
		source,
		metadata,
		logging.Component(a.logger, "syncer"),
		syncer.WithPublisher(publisher),
		syncer.WithClock(system.New()),
		syncer.WithIDGenerator(ids),
	)
	if err != nil {
		return fmt.Errorf("syncer init failed: %w", err)
	}

	queries, err := query.New(metadata)
	if err != nil {
		return fmt.Errorf("query service init failed: %w", err)
	}
	a.apiServer = api.NewServer(
		a.baseCtx,
		queries,
		a.syncer,
		blobs,
		sha256.New(),
		ids,
		logging.Component(a.logger, "api"),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (comic.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupMetadata(ctx context.Context) (comic.Store, error) {
	logger := logging.Component(a.logger, "store")
	if a.cfg.Metadata.Backend == "postgres" {
		st, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Database.DSN,
			Table:    a.cfg.Database.Table,
			MaxConns: a.cfg.Database.MaxConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres metadata store init failed: %w", err)
		}
		a.pgStore = st
		return st, nil
	}
	st, err := jsonfile.Open(ctx, jsonfile.Config{Path: a.cfg.MetadataPath()}, logger)
	if err != nil {
		return nil, fmt.Errorf("metadata file init failed: %w", err)
	}
	return st, nil
}

func (a *App) setupPublisher(ctx context.Context) (comic.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(logging.Component(a.logger, "events")), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher, err = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupSource(blobs comic.BlobStore) (*xkcd.Client, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Source.UserAgent,
		Timeout:     a.cfg.SourceTimeout(),
		MaxBodySize: a.cfg.Source.MaxImageBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Source.RequestsPerSecond,
		DefaultBurst: a.cfg.Source.Burst,
	})
	a.logger.Info("upstream source configured",
		zap.String("base_url", a.cfg.Source.BaseURL),
		zap.String("user_agent", a.cfg.Source.UserAgent),
		zap.Duration("timeout", a.cfg.SourceTimeout()),
		zap.Float64("requests_per_second", a.cfg.Source.RequestsPerSecond),
	)
	source, err := xkcd.New(
		xkcd.Config{BaseURL: a.cfg.Source.BaseURL, ContentType: a.cfg.Storage.ContentType},
		fetcher,
		blobs,
		limiter,
		logging.Component(a.logger, "source"),
	)
	if err != nil {
		return nil, fmt.Errorf("xkcd source init failed: %w", err)
	}
	return source, nil
}

// Handler exposes the HTTP handler (primarily for testing).
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// SyncOnce runs one blocking synchronization.
func (a *App) SyncOnce(ctx context.Context) (syncer.Result, error) {
	res, err := a.syncer.Synchronize(ctx)
	if err != nil {
		return res, fmt.Errorf("synchronize: %w", err)
	}
	return res, nil
}

// Run serves HTTP until ctx is canceled or the listener fails, optionally
// starting a background synchronization first.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Sync.OnStartup {
		if _, err := a.syncer.Start(a.baseCtx); err != nil {
			a.logger.Warn("startup sync not started", zap.Error(err))
		} else {
			a.logger.Info("startup sync started")
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops background runs and releases clients. A run interrupted here
// still persists the comics it fetched.
func (a *App) Close(ctx context.Context) error {
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.syncer != nil {
		a.syncer.Wait()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}
