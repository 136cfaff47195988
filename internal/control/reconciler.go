package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/reconciler/internal/admin"
	"github.com/vietddude/reconciler/internal/core/config"
	coreworker "github.com/vietddude/reconciler/internal/core/worker"
	"github.com/vietddude/reconciler/internal/engine/monitor"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/engine/scheduler"
	"github.com/vietddude/reconciler/internal/engine/worker"
	"github.com/vietddude/reconciler/internal/infra/chain"
	"github.com/vietddude/reconciler/internal/infra/notify"
	redisclient "github.com/vietddude/reconciler/internal/infra/redis"
	"github.com/vietddude/reconciler/internal/infra/storage"
	"github.com/vietddude/reconciler/internal/infra/storage/memory"
	"github.com/vietddude/reconciler/internal/infra/storage/postgres"
)

// Reconciler is the main application struct that manages the engine
// lifecycle.
type Reconciler struct {
	cfg         config.AppConfig
	repo        storage.TransactionRepository
	q           queue.Queue
	chainClient chain.StatusClient
	notifier    notify.Notifier
	worker      *worker.Worker
	scheduler   *scheduler.Scheduler
	monitor     *monitor.Monitor
	pruner      *coreworker.Pruner
	adminServer *admin.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a Reconciler with all dependencies initialized.
// Everything is wired through explicit constructors; there is no container.
func NewReconciler(cfg config.AppConfig) (*Reconciler, error) {
	r := &Reconciler{
		cfg: cfg,
		log: slog.Default().With("component", "control"),
	}

	// 1. Transaction record store
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		r.db = db
		r.repo = postgres.NewTxRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		r.repo = memory.NewTxRepo(memory.NewMemoryStorage())
		slog.Info("Using Memory storage")
	}

	// 2. Durable priority queue
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		r.redisClient = client
		r.q = redisclient.NewQueue(client, redisclient.DefaultQueueConfig())
		slog.Info("Using Redis queue")
	} else {
		r.q = queue.NewMemoryQueue()
		slog.Info("Using Memory queue")
	}

	// 3. Chain status client
	r.chainClient = chain.NewRESTClient(cfg.Chain)

	// 4. Notifier
	if cfg.Notify.WebhookURL != "" {
		r.notifier = notify.NewWebhookNotifier(cfg.Notify)
	} else {
		r.notifier = notify.NewLogNotifier()
	}

	// 5. Engine components
	policy := worker.Policy{
		RequiredConfirmations: cfg.Engine.RequiredConfirmations,
		MaxRetries:            cfg.Engine.MaxRetries,
		BroadcastTimeout:      cfg.Engine.BroadcastTimeout,
		ForceConfirmWindow:    cfg.Engine.ForceConfirmWindow,
		StuckThreshold:        cfg.Engine.StuckThreshold,
	}
	backoff := &queue.ExponentialBackoff{
		InitialDelay: cfg.Engine.BackoffInitial,
		MaxDelay:     cfg.Engine.BackoffMax,
	}

	r.worker = worker.NewWorker(
		r.repo, r.chainClient, r.notifier, r.q, backoff, policy, cfg.Engine.Concurrency,
	)

	r.scheduler = scheduler.New(scheduler.Config{
		Interval:        cfg.Engine.SchedulerInterval,
		RecheckInterval: cfg.Engine.RecheckInterval,
		MaxRetries:      cfg.Engine.MaxRetries,
	}, r.repo, r.q)

	r.monitor = monitor.New(monitor.Config{
		Interval:       cfg.Engine.MonitorInterval,
		StuckThreshold: cfg.Engine.StuckThreshold,
	}, r.repo, r.q)

	r.pruner = coreworker.NewPruner(cfg.Engine.RetentionPeriod, r.repo)

	// 6. Operator API
	r.adminServer = admin.NewServer(
		cfg.Server.Port, r.repo, r.q, r.chainClient, r.notifier, r.monitor,
	)

	return r, nil
}

// Start launches the worker pool, scheduler, monitor, pruner and admin
// server.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.worker.Run(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("Worker pool exited", "error", err)
		}
	}()

	r.scheduler.Start(ctx)
	r.monitor.Start(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruner.Start(ctx)
	}()

	go func() {
		r.log.Info("Admin server listening", "port", r.cfg.Server.Port)
		if err := r.adminServer.Start(); err != nil && ctx.Err() == nil {
			r.log.Error("Admin server exited", "error", err)
		}
	}()

	return nil
}

// Stop shuts down the admin server, stops the periodic tasks and waits for
// in-flight polls to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	if err := r.adminServer.Stop(ctx); err != nil {
		r.log.Warn("Admin server shutdown failed", "error", err)
	}

	r.scheduler.Stop()
	r.monitor.Stop()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if r.redisClient != nil {
		_ = r.redisClient.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	return nil
}
