// Package server provides the core application server and dependency injection.
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
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/api"
	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/classify"
	"github.com/JakeFAU/blogwatch/internal/clock/system"
	"github.com/JakeFAU/blogwatch/internal/config"
	"github.com/JakeFAU/blogwatch/internal/discovery"
	"github.com/JakeFAU/blogwatch/internal/dispatcher"
	"github.com/JakeFAU/blogwatch/internal/extract"
	"github.com/JakeFAU/blogwatch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/blogwatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/blogwatch/internal/fetcher/headless"
	"github.com/JakeFAU/blogwatch/internal/hash/sha256"
	"github.com/JakeFAU/blogwatch/internal/headless/detector"
	"github.com/JakeFAU/blogwatch/internal/id/uuid"
	"github.com/JakeFAU/blogwatch/internal/llm"
	"github.com/JakeFAU/blogwatch/internal/logging"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/blogwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/blogwatch/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/blogwatch/internal/queue/memory"
	"github.com/JakeFAU/blogwatch/internal/refine"
	"github.com/JakeFAU/blogwatch/internal/retry"
	"github.com/JakeFAU/blogwatch/internal/schema"
	gcsstorage "github.com/JakeFAU/blogwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/blogwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/blogwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/blogwatch/internal/storage/postgres"
	"github.com/JakeFAU/blogwatch/internal/watcher"
	"github.com/JakeFAU/blogwatch/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *watcher.Service
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue

	gateway      blog.Gateway
	pgGateway    *pgstore.Gateway
	headless     *headlessfetcher.Fetcher
	llmClient    llm.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("refinement_attempts", cfg.Refinement.MaxAttempts),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the watcher operations.
func (a *App) Service() *watcher.Service { return a.service }

// Gateway returns the persistence gateway.
func (a *App) Gateway() blog.Gateway { return a.gateway }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Dispatcher.Workers))
		a.dispatch.Run(ctx)
	}()

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

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown timeout")
	}

	return a.Close(shutdownCtx)
}

// Close releases every client the App opened.
func (a *App) Close(_ context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		// stderr sync fails on some platforms; nothing useful to do about it.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.llmClient != nil {
		if err := a.llmClient.Close(); err != nil {
			a.logger.Warn("llm client close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
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
	if a.pgGateway != nil {
		a.pgGateway.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	// Partially built clients are released when a later step fails.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	snapshots, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	oracle, err := setupOracle(ctx, app)
	if err != nil {
		return nil, err
	}
	executor, err := setupExecutor(app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	fetch := setupFetcher(app)
	recorder := classify.NewRecorder(app.gateway, clock, app.logger)
	refiner := refine.NewController(oracle, executor, app.gateway, recorder, cfg.Refinement.MaxAttempts, app.logger)
	pipeline := extract.New(extract.Deps{
		Fetcher:   fetch,
		Oracle:    oracle,
		Store:     app.gateway,
		Recorder:  recorder,
		Limiter:   setupLimiter(app),
		Publisher: publisher,
		Clock:     clock,
	}, extract.Config{
		MaxWorkers:  cfg.Pipeline.MaxWorkers,
		PostTimeout: cfg.PostTimeout(),
		NotifyTopic: cfg.PubSub.TopicName,
	}, app.logger)

	app.service = watcher.New(watcher.Deps{
		Store:      app.gateway,
		Fetcher:    fetch,
		Refiner:    refiner,
		Discoverer: discovery.New(executor, app.gateway),
		Pipeline:   pipeline,
		Recorder:   recorder,
		Snapshots:  snapshots,
		Hasher:     sha256.New(),
		Clock:      clock,
	}, watcher.Config{
		BlogWorkers:  cfg.Pipeline.BlogWorkers,
		FetchTimeout: cfg.FetchTimeout(),
	}, app.logger)

	app.dispatch = setupDispatcher(app, clock)

	apiCfg := api.Config{DefaultWindow: cfg.DigestWindow()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, app.dispatch, apiCfg, app.logger)

	ok = true
	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.Backend != "postgres" {
		app.logger.Warn("using in-memory gateway; state is lost on exit")
		app.gateway = memorystorage.NewGateway()
		return nil
	}
	gw, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres gateway init failed: %w", err)
	}
	app.pgGateway = gw
	app.gateway = gw
	app.logger.Info("postgres gateway initialized", zap.Int32("max_conns", app.cfg.Database.MaxConns))
	return nil
}

func setupStorage(ctx context.Context, app *App) (blog.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot store", zap.String("bucket", app.cfg.Storage.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot store", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return store, nil
	case "memory":
		app.logger.Info("using in-memory snapshot store")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("listing snapshots disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (blog.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupOracle(ctx context.Context, app *App) (*llm.Oracle, error) {
	client, err := llm.NewClient(ctx, llm.ClientConfig{
		Provider:    llm.Provider(app.cfg.LLM.Provider),
		APIKey:      app.cfg.LLM.APIKey,
		Model:       app.cfg.LLM.Model,
		BaseURL:     app.cfg.LLM.BaseURL,
		Temperature: app.cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	app.llmClient = client
	app.logger.Info("llm oracle initialized",
		zap.String("provider", app.cfg.LLM.Provider),
		zap.String("model", app.cfg.LLM.Model),
	)
	return llm.NewOracle(client, llm.OracleConfig{
		MaxRetries:      app.cfg.LLM.MaxRetries,
		RetryDelay:      app.cfg.LLMRetryDelay(),
		Timeout:         app.cfg.LLMTimeout(),
		MaxPromptBytes:  app.cfg.LLM.MaxPromptBytes,
		MaxContentBytes: app.cfg.LLM.MaxContentBytes,
	}, app.logger), nil
}

func setupExecutor(app *App) (*schema.Executor, error) {
	scorer, err := schema.ScorerByName(app.cfg.Refinement.Scorer)
	if err != nil {
		return nil, fmt.Errorf("refinement.scorer: %w", err)
	}
	return schema.NewExecutor(schema.WithScorer(scorer)), nil
}

func setupFetcher(app *App) blog.Fetcher {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.HTTP.UserAgent,
		Timeout:   app.cfg.FetchTimeout(),
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", app.cfg.HTTP.UserAgent))

	var headless blog.Fetcher = headlessfetcher.NewNoop()
	if app.cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.HTTP.UserAgent,
			NavigationTimeout: app.cfg.NavigationTimeout(),
			WaitSelector:      app.cfg.Headless.WaitSelector,
			SettleDelay:       app.cfg.SettleDelay(),
			ScrollPasses:      app.cfg.Headless.ScrollPasses,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, promotion disabled", zap.Error(err))
		} else {
			app.headless = hf
			headless = hf
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
		}
	}
	detect := detector.NewHeuristic(app.cfg.Headless.PromotionThresh, app.cfg.Headless.MinAnchors)
	promoting := fetcher.NewPromoting(probe, headless, detect, app.logger)

	policy := retry.NewExponentialPolicy(app.cfg.HTTP.MaxRetries, app.cfg.BackoffInitial(), app.cfg.BackoffMax())
	return fetcher.NewRetrying(promoting, policy, app.cfg.FetchTimeout(), app.logger)
}

func setupLimiter(app *App) blog.Limiter {
	if !app.cfg.RateLimit.Enabled {
		app.logger.Info("rate limiter disabled")
		return nil
	}
	app.logger.Info("rate limiter enabled",
		zap.Float64("default_rps", app.cfg.RateLimit.DefaultRPS),
		zap.Int("default_burst", app.cfg.RateLimit.DefaultBurst),
		zap.Int("host_overrides", len(app.cfg.RateLimit.PerHostRPS)),
	)
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.RateLimit.DefaultRPS,
		DefaultBurst: app.cfg.RateLimit.DefaultBurst,
		PerHostRPS:   app.cfg.RateLimit.PerHostRPS,
	})
}

func setupDispatcher(app *App, clock blog.Clock) *dispatcher.Dispatcher {
	app.queue = queuememory.NewQueue(app.cfg.Dispatcher.QueueDepth)
	tasks := memorystorage.NewTaskStore()
	workerCfg := worker.Config{TaskTimeout: app.cfg.TaskTimeout()}
	workers := make([]*worker.Worker, 0, app.cfg.Dispatcher.Workers)
	for i := 0; i < app.cfg.Dispatcher.Workers; i++ {
		workers = append(workers, worker.New(i, app.queue, tasks, app.service, workerCfg, app.logger))
	}
	app.logger.Info("dispatcher configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", app.cfg.Dispatcher.QueueDepth),
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
	)
	return dispatcher.New(app.queue, tasks, uuid.New(), clock, workers)
}
