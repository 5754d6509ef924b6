// Package server provides the application container: it builds the capture
// pipeline from configuration and runs it in one of the CLI modes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/api"
	"github.com/JakeFAU/storefront-intel/internal/archive"
	"github.com/JakeFAU/storefront-intel/internal/clock/system"
	"github.com/JakeFAU/storefront-intel/internal/config"
	"github.com/JakeFAU/storefront-intel/internal/decoder"
	"github.com/JakeFAU/storefront-intel/internal/hash/sha256"
	"github.com/JakeFAU/storefront-intel/internal/id/uuid"
	"github.com/JakeFAU/storefront-intel/internal/matcher"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/orchestrator"
	"github.com/JakeFAU/storefront-intel/internal/pipeline"
	"github.com/JakeFAU/storefront-intel/internal/policy/pacing"
	"github.com/JakeFAU/storefront-intel/internal/progress"
	progresssinks "github.com/JakeFAU/storefront-intel/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/storefront-intel/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/storefront-intel/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/storefront-intel/internal/queue/memory"
	"github.com/JakeFAU/storefront-intel/internal/session/browser"
	"github.com/JakeFAU/storefront-intel/internal/session/httpreplay"
	gcsstorage "github.com/JakeFAU/storefront-intel/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storefront-intel/internal/storage/local"
	memoryStorage "github.com/JakeFAU/storefront-intel/internal/storage/memory"
	pgstore "github.com/JakeFAU/storefront-intel/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/storefront-intel/internal/storage/sqlite"
	"github.com/JakeFAU/storefront-intel/internal/tagger"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  monitor.Clock

	store        monitor.Store
	storage      *storage.Client
	pubsubClient *pubsub.Client
	publisher    monitor.Publisher
	progressHub  *progress.Hub
	tracker      *progresssinks.Tracker
	classifier   *matcher.Matcher
	queue        *queueMemory.Queue
	session      *browser.Session
	sender       monitor.Sender
	engine       *pipeline.Engine
	apiServer    *api.Server
}

// Option adjusts Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	transport  http.RoundTripper
	clock      monitor.Clock
}

// WithRegisterer registers progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTransport sets the round tripper used by the plain HTTP sender.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithClock overrides the wall clock.
func WithClock(c monitor.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Build creates the application's dependencies. A store that cannot be
// opened is fatal and wraps monitor.ErrStoreInit.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	app := &App{cfg: cfg, logger: logger, clock: o.clock}
	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("sender", cfg.Replay.Sender),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	if err := setupStore(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	progressEmitter, err := setupProgress(app, o.registerer)
	if err != nil {
		return nil, err
	}
	app.classifier, err = setupMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}
	if err := setupSession(app, o.transport); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	var archiver *archive.Archiver
	if blobStore != nil {
		archiver = archive.New(blobStore, hasher, app.clock, archive.Config{
			Prefix:           cfg.Archive.Prefix,
			UndecodableBytes: cfg.Archive.UndecodableBytes,
		})
	}
	dec := decoder.New(decoder.Config{MaxDepth: cfg.Decoder.MaxDepth, MaxNodes: cfg.Decoder.MaxNodes})
	labeler := tagger.New()

	orch, err := orchestrator.New(orchestrator.Deps{
		Sender:    app.sender,
		Decoder:   dec,
		Store:     app.store,
		Pacer:     pacing.New(pacing.Config{Interval: cfg.Replay.Interval}),
		Clock:     app.clock,
		IDs:       uuid.New(),
		Archiver:  archiver,
		Labeler:   labeler,
		Publisher: app.publisher,
		Progress:  progressEmitter,
	}, orchestrator.Config{
		TargetField:    cfg.Replay.TargetField,
		RequestTimeout: cfg.RequestTimeout(),
		Topic:          cfg.PubSub.Topic,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.queue = queueMemory.NewQueue(cfg.Session.BufferSize)
	app.engine, err = pipeline.New(pipeline.Deps{
		Classifier: app.classifier,
		Decoder:    dec,
		Labeler:    labeler,
		Store:      app.store,
		Clock:      app.clock,
		Archiver:   archiver,
		Runner:     orch,
		Source:     app.queue,
	}, pipeline.Config{
		TargetField: cfg.Replay.TargetField,
		AutoRun:     cfg.Replay.Auto,
		Window:      cfg.Ranking.Window,
		TopN:        cfg.Ranking.TopN,
		PerTargetN:  cfg.Ranking.PerTargetN,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.apiServer = api.NewServer(
		app.store,
		app.engine,
		app.tracker,
		app.clock,
		api.Config{
			APIKey:  cfg.Server.APIKey,
			Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		},
		logger.Named("api"),
	)
	ok = true
	return app, nil
}

// Engine exposes the pipeline engine.
func (a *App) Engine() *pipeline.Engine { return a.engine }

// Store exposes the record store.
func (a *App) Store() monitor.Store { return a.store }

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Watch opens the browser session and processes captured traffic until the
// context is canceled or the browser goes away. The API is served alongside
// when enabled.
func (a *App) Watch(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.startSession(ctx); err != nil {
		return err
	}
	srv := a.startHTTP(stop)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.engine.Run(ctx, a.queue.Events())
	}()
	a.logger.Info("watching traffic", zap.String("start_url", a.cfg.Session.StartURL))

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case <-a.session.Done():
		a.logger.Info("browser closed, draining pipeline")
	}
	a.session.Close()
	a.queue.Close()
	err := <-loopErr
	a.shutdownHTTP(srv)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Serve runs only the HTTP API until the context is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv := a.startHTTP(stop)
	if srv == nil {
		return errors.New("server.enabled is false")
	}
	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.shutdownHTTP(srv)
	return nil
}

// RunOnce replays tmpl against every stored target and returns the report.
// Without a template it only reports. The browser sender opens a session
// first so replays carry its cookies.
func (a *App) RunOnce(ctx context.Context, tmpl *monitor.RequestTemplate) (pipeline.Report, error) {
	targets, err := a.store.ListTargets(ctx)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("list targets: %w", err)
	}
	s := pipeline.NewState().WithTargets(targets)
	if tmpl != nil {
		s = s.WithTemplate(*tmpl)
		if a.cfg.Replay.Sender == config.SenderBrowser {
			if err := a.startSession(ctx); err != nil {
				return pipeline.Report{}, err
			}
		}
	}
	a.logger.Info("run once", zap.Int("targets", len(targets)), zap.Bool("template", tmpl != nil))
	_, report, err := a.engine.RunOnce(ctx, s)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("run once: %w", err)
	}
	return report, nil
}

// Rank reports on rows already stored.
func (a *App) Rank(ctx context.Context, window time.Duration, n int) (pipeline.Report, error) {
	report, err := a.engine.Report(ctx, window, n)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("rank: %w", err)
	}
	return report, nil
}

func (a *App) startSession(ctx context.Context) error {
	filter := func(url string) bool {
		return a.classifier.Classify(url) != monitor.CategoryIgnored
	}
	handler := func(ev monitor.TrafficEvent) {
		if !a.queue.TryEnqueue(ev) {
			a.logger.Warn("traffic dropped, queue full or closed", zap.String("url", ev.URL))
		}
	}
	if err := a.session.Start(ctx, filter, handler); err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	return nil
}

func (a *App) startHTTP(stop context.CancelFunc) *http.Server {
	if !a.cfg.Server.Enabled {
		return nil
	}
	srv := &http.Server{
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
	return srv
}

func (a *App) shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.session != nil {
		a.session.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if p, ok := a.publisher.(*gcppublisher.Publisher); ok {
		p.Close()
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
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("record store close failed", zap.Error(err))
		}
	}
}

// setupStore assigns app.store only once a store is open. A nil *Store held
// in the interface would be non-nil and break closeInfrastructure.
func setupStore(ctx context.Context, app *App) error {
	cfg := app.cfg.Store
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			TargetsTable:    cfg.Postgres.TargetsTable,
			ItemsTable:      cfg.Postgres.ItemsTable,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using postgres record store", zap.String("items_table", cfg.Postgres.ItemsTable))
	case config.DriverMemory:
		app.logger.Warn("using in-memory record store, rows are lost on exit")
		app.store = memoryStorage.NewRecordStore()
	default:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using sqlite record store", zap.String("path", cfg.SQLite.Path))
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (monitor.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving to gcs", zap.String("bucket", cfg.Bucket))
		return blobStore, nil
	case config.ArchiveLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving to local disk", zap.String("path", cfg.Dir))
		return blobStore, nil
	default:
		app.logger.Debug("raw payload archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	cfg := app.cfg.PubSub
	if cfg.ProjectID == "" || cfg.Topic == "" {
		app.logger.Debug("no pub/sub project configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient, map[string]string{"source": "storefront-intel"})
	app.logger.Info("pub/sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return nil
}

func setupProgress(app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	app.tracker = progresssinks.NewTracker(app.cfg.Progress.KeepRuns)
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.ProgressWait(),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
		app.tracker,
	)
	app.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupMatcher(cfg config.MatcherConfig) (*matcher.Matcher, error) {
	if len(cfg.Signatures) == 0 {
		return matcher.Default(), nil
	}
	rules, err := matcher.ParseRules(cfg.Signatures)
	if err != nil {
		return nil, fmt.Errorf("matcher signatures: %w", err)
	}
	m, err := matcher.New(rules)
	if err != nil {
		return nil, fmt.Errorf("matcher init failed: %w", err)
	}
	return m, nil
}

func setupSession(app *App, transport http.RoundTripper) error {
	cfg := app.cfg.Session
	var err error
	app.session, err = browser.New(browser.Config{
		StartURL:          cfg.StartURL,
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		ExecPath:          cfg.ExecPath,
		UserDataDir:       cfg.UserDataDir,
		NavigationTimeout: time.Duration(cfg.NavTimeoutSeconds) * time.Second,
		BodyTimeout:       time.Duration(cfg.BodyTimeoutSeconds) * time.Second,
	}, app.clock, app.logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("browser session init failed: %w", err)
	}
	if app.cfg.Replay.Sender == config.SenderBrowser {
		app.sender = app.session
		return nil
	}
	app.sender, err = httpreplay.New(httpreplay.Config{
		Timeout:   app.cfg.RequestTimeout(),
		UserAgent: cfg.UserAgent,
		Cookie:    app.cfg.Replay.Cookie,
	}, transport, app.clock, app.logger.Named("httpreplay"))
	if err != nil {
		return fmt.Errorf("http sender init failed: %w", err)
	}
	app.logger.Info("replaying over plain http")
	return nil
}
