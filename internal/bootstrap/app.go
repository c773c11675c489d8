package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"Invoke-Chain/internal/api"
	"Invoke-Chain/internal/auth"
	"Invoke-Chain/internal/catalog"
	"Invoke-Chain/internal/chain"
	"Invoke-Chain/internal/config"
	"Invoke-Chain/internal/decorators"
	"Invoke-Chain/internal/observability/alerting"
	"Invoke-Chain/internal/observability/metrics"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/internal/resolvers"
	"Invoke-Chain/internal/storage/mysql"
	redisstore "Invoke-Chain/internal/storage/redis"
	"Invoke-Chain/internal/task"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// App is a fully wired daemon.
type App struct {
	Config    *config.Config
	Functions *catalog.Catalog
	Plugins   *plugin.Manager
	Invoker   *invoke.Invoker
	Metrics   *metrics.Registry
	Audit     mysql.AuditRepository
	Tasks     *task.Service
	Processor *task.Processor
	API       *api.Server

	logger  *slog.Logger
	closers []func() error
}

// New builds every component named by cfg, starts the plugins and returns
// the assembled application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{Config: cfg, logger: logger.Named("bootstrap")}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	app.Metrics = metrics.NewRegistry()

	// Backends sharing a DSN share one pool, closed once by the app.
	dbs := map[string]*sql.DB{}
	openDB := func(c mysql.Config) (*sql.DB, error) {
		if db, ok := dbs[c.DSN]; ok {
			return db, nil
		}
		db, err := mysql.OpenMigrated(ctx, c)
		if err != nil {
			return nil, err
		}
		dbs[c.DSN] = db
		app.onClose(db.Close)
		return db, nil
	}

	var taskStore task.Store
	switch cfg.Storage.Tasks.Driver {
	case "mysql":
		db, err := openDB(cfg.Storage.Tasks.MySQL)
		if err != nil {
			return nil, fmt.Errorf("open task store: %w", err)
		}
		taskStore = mysql.NewTaskStore(db)
	default:
		taskStore = task.NewMemoryStore()
	}

	switch cfg.Storage.Audit.Driver {
	case "mysql":
		db, err := openDB(cfg.Storage.Audit.MySQL)
		if err != nil {
			return nil, fmt.Errorf("open audit repository: %w", err)
		}
		app.Audit = mysql.NewSQLAuditRepository(db)
	default:
		repo, err := mysql.NewFileAuditRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open audit repository: %w", err)
		}
		app.Audit = repo
	}

	var redisClient *goredis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.onClose(redisClient.Close)
	}

	taskQueue, err := queue.Open(ctx, cfg.Queue.Config, redisClient)
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}
	app.onClose(taskQueue.Close)

	opts := []plugin.Option{
		plugin.WithLogger(logger.Named("plugin")),
		plugin.WithResource(plugin.ResourceAuditRepository, app.Audit),
		plugin.WithResource(plugin.ResourceMetrics, app.Metrics.Registerer()),
	}
	if redisClient != nil {
		opts = append(opts, plugin.WithResource(plugin.ResourceRedis, redisClient))
	}
	if cfg.Events.Enabled {
		events, err := queue.Open(ctx, cfg.Events.Queue, redisClient)
		if err != nil {
			return nil, fmt.Errorf("open event queue: %w", err)
		}
		app.onClose(events.Close)
		opts = append(opts, plugin.WithResource(plugin.ResourceEventProducer, queue.Producer(events)))
	}
	if len(cfg.Invoke.DefaultGroups) > 0 {
		opts = append(opts, plugin.WithInvokerOptions(invoke.WithDefaultGroups(cfg.Invoke.DefaultGroups...)))
	}
	for name, factory := range decorators.Factories() {
		opts = append(opts, plugin.WithFactory(name, factory))
	}
	for name, factory := range resolvers.Factories() {
		opts = append(opts, plugin.WithFactory(name, factory))
	}

	app.Plugins, err = plugin.NewManager(cfg.Plugins, opts...)
	if err != nil {
		return nil, fmt.Errorf("plugins: %w", err)
	}
	app.Invoker = app.Plugins.Build()
	if err := app.Plugins.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("start plugins: %w", err)
	}
	app.onClose(func() error { return app.Plugins.StopAll(context.Background()) })

	app.Functions = catalog.New()
	if err := catalog.RegisterBuiltins(app.Functions); err != nil {
		return nil, err
	}
	if cfg.Chains.Enabled() {
		chains, err := chain.Open(ctx, cfg.Chains)
		if err != nil {
			return nil, fmt.Errorf("open chains: %w", err)
		}
		app.onClose(func() error { chains.Close(); return nil })
		if err := chain.RegisterFunctions(app.Functions, chains); err != nil {
			return nil, err
		}
	}

	app.Tasks = task.NewService(taskStore, taskQueue, cfg.Queue.MaxRetries, task.WithFunctionCatalog(app.Functions))
	app.Processor = task.NewProcessor(
		task.NewInvokerExecutor(app.Functions, app.Invoker),
		taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(newAlerts(cfg.Alerting)),
	)

	authSvc, err := auth.NewService(cfg.Server.APIKeys, logger.Audit())
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	app.API = api.NewServer(api.Options{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		InvokeTimeout:   cfg.Invoke.Timeout,
	}, api.Dependencies{
		Functions: app.Functions,
		Invoker:   app.Invoker,
		Groups:    app.Plugins.Groups,
		Tasks:     app.Tasks,
		Audit:     app.Audit,
		Auth:      authSvc,
		Metrics:   app.Metrics,
	})

	app.logger.Info("application assembled",
		slog.Int("functions", len(app.Functions.Names())),
		slog.Int("plugins", len(app.Plugins.Plugins())),
		slog.String("task_store", cfg.Storage.Tasks.Driver),
		slog.String("audit_store", cfg.Storage.Audit.Driver),
		slog.String("queue", cfg.Queue.Driver),
	)
	return app, nil
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.Headers})
	}
	return alerting.NewFanout(notifiers...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run serves the API and processes tasks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.API.Start(ctx)
	})
	g.Go(func() error {
		err := a.Processor.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
