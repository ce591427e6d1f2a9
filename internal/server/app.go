// Package server builds the ingestion engine and its HTTP trigger from
// configuration and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/api"
	"github.com/JakeFAU/tdnet-ingest/internal/classify"
	"github.com/JakeFAU/tdnet-ingest/internal/clock/system"
	"github.com/JakeFAU/tdnet-ingest/internal/config"
	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/tdnet-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/tdnet-ingest/internal/id/uuid"
	"github.com/JakeFAU/tdnet-ingest/internal/listing"
	"github.com/JakeFAU/tdnet-ingest/internal/manifest"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
	"github.com/JakeFAU/tdnet-ingest/internal/pipeline"
	"github.com/JakeFAU/tdnet-ingest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/tdnet-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tdnet-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
	gcsstorage "github.com/JakeFAU/tdnet-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tdnet-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/tdnet-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/tdnet-ingest/internal/storage/postgres"
	"github.com/JakeFAU/tdnet-ingest/internal/telemetry"
	"github.com/JakeFAU/tdnet-ingest/internal/worker"
)

// Version is stamped into trace resources.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	loc             *time.Location
	clock           *system.Clock
	engine          *pipeline.Engine
	apiServer       *api.Server
	blobStore       disclosure.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	runStore        *pgstore.RunStore
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, loc: loc, clock: system.New(loc)}
	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
			app.closeObservability(context.Background())
		}
	}()

	metrics.Init()
	if cfg.Tracing.Enabled {
		tp := telemetry.InitTracerProvider(telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		}, logger.Named("trace"))
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	if app.blobStore, err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if app.engine, err = setupEngine(app, publisher); err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.engine,
		app.clock,
		api.Config{Location: loc, APIKey: apiKey(cfg.Auth)},
		logger.Named("api"),
	)
	built = true
	return app, nil
}

func apiKey(auth config.AuthConfig) string {
	if !auth.Enabled {
		return ""
	}
	return auth.APIKey
}

// Engine returns the date run engine.
func (a *App) Engine() *pipeline.Engine {
	return a.engine
}

// Handler returns the HTTP trigger.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Location returns the zone used to resolve "today".
func (a *App) Location() *time.Location {
	return a.loc
}

// Today returns the current date in the configured zone.
func (a *App) Today() time.Time {
	return disclosure.Today(a.clock.Now(), a.loc)
}

// Serve runs the HTTP trigger until ctx is canceled, then drains in-flight
// requests for up to the configured shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func setupStorage(ctx context.Context, app *App) (disclosure.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Warn("using in-memory storage backend, documents do not outlive the process")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no DSN specified, run ledger disabled")
		return nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.DB.DSN,
		Table:           app.cfg.DB.Table,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runStore = store
	if app.cfg.DB.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run store schema: %w", err)
		}
	}
	app.logger.Info("run ledger initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (disclosure.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, completion messages stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher, err = gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupEngine(app *App, publisher disclosure.Publisher) (*pipeline.Engine, error) {
	cfg := app.cfg
	opts := cfg.Options()
	keys := cfg.Keys()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:          cfg.Listing.UserAgent,
		Timeout:            time.Duration(cfg.Listing.TimeoutSeconds) * time.Second,
		InsecureSkipVerify: cfg.Listing.InsecureSkipVerify,
	})
	crawler, err := listing.New(fetcher, listing.Config{
		BaseURL:  cfg.Listing.BaseURL,
		MaxPages: cfg.Listing.MaxPages,
	}, app.logger.Named("listing"))
	if err != nil {
		return nil, fmt.Errorf("listing crawler init failed: %w", err)
	}

	workerCfg := worker.Config{
		ContentType:  cfg.Storage.ContentType,
		TempDir:      cfg.Pipeline.TempDir,
		FetchTimeout: opts.FetchTimeout(),
		UserAgent:    cfg.Listing.UserAgent,
		Keys:         keys,
	}
	client := &http.Client{}
	workers := make([]dispatcher.Processor, 0, opts.MaxWorkers)
	for i := 0; i < opts.MaxWorkers; i++ {
		limiter := ratelimit.New(ratelimit.Config{PerSecond: opts.PerWorkerRateLimit})
		w, err := worker.New(i, limiter, client, app.blobStore, workerCfg, app.logger.Named("worker"))
		if err != nil {
			return nil, fmt.Errorf("worker init failed: %w", err)
		}
		workers = append(workers, w)
	}
	app.logger.Info("worker pool ready",
		zap.Int("workers", opts.MaxWorkers),
		zap.Int("per_worker_rate_limit", opts.PerWorkerRateLimit),
		zap.Int("batch_size", opts.BatchSize),
		zap.Duration("fetch_timeout", opts.FetchTimeout()),
	)

	dispatch, err := dispatcher.New(workers, opts.BatchSize, app.logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	aggregator, err := manifest.New(app.blobStore, keys, app.clock, app.logger.Named("manifest"))
	if err != nil {
		return nil, fmt.Errorf("aggregator init failed: %w", err)
	}

	deps := pipeline.Deps{
		Crawler:      crawler,
		Classifier:   classify.New(nil, opts.ExcludedMarkets),
		LoadRegistry: RegistryLoader(cfg.Registry.Path),
		Dispatcher:   dispatch,
		Aggregator:   aggregator,
		Publisher:    publisher,
		Topic:        cfg.PubSub.TopicName,
		Clock:        app.clock,
		IDs:          uuid.New(),
		Logger:       app.logger.Named("pipeline"),
	}
	if app.runStore != nil {
		deps.Recorder = app.runStore
	}
	return pipeline.New(deps)
}

// RegistryLoader reads the registry CSV at path on every run, so an updated
// file is picked up without a restart.
func RegistryLoader(path string) pipeline.RegistryLoader {
	return func() (*registry.Registry, error) {
		return registry.Load(path)
	}
}

// RunForDate ingests a single date.
func (a *App) RunForDate(ctx context.Context, date time.Time) (disclosure.RunResult, error) {
	return a.engine.RunForDate(ctx, date)
}

// RunRange ingests every date from start to end inclusive.
func (a *App) RunRange(ctx context.Context, start, end time.Time) ([]disclosure.RunResult, error) {
	return a.engine.RunRange(ctx, start, end)
}
