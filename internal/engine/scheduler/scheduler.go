package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/metrics"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

// Config holds scheduler settings.
type Config struct {
	Interval        time.Duration // sweep tick
	RecheckInterval time.Duration // min gap between polls of one transaction
	MaxRetries      int
}

// Scheduler periodically scans the store for pollable transactions and
// enqueues a job for each one not already queued. It owns its goroutine and
// never mutates transaction state; only the worker and monitor write.
type Scheduler struct {
	cfg    Config
	repo   storage.TransactionRepository
	q      queue.Queue
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a reconciliation scheduler.
func New(cfg Config, repo storage.TransactionRepository, q queue.Queue) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		repo: repo,
		q:    q,
		log:  slog.Default().With("component", "scheduler"),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.log.Info("Reconciliation scheduler started", "interval", s.cfg.Interval)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Reconciliation scheduler stopped")
				return
			case <-ticker.C:
				if err := s.Tick(ctx); err != nil {
					// Broker or store outage: state lives in the
					// store, so the next tick simply retries.
					s.log.Error("Reconciliation sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// Tick runs one reconciliation sweep. Exported so tests can drive the
// scheduler synchronously.
func (s *Scheduler) Tick(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.RecheckInterval)
	pending, err := s.repo.FindPending(ctx, s.cfg.MaxRetries, cutoff)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, tx := range pending {
		queued, err := s.q.Contains(ctx, tx.ID)
		if err != nil {
			return err
		}
		if queued {
			// A job is already waiting, delayed or active for this
			// transaction; the queue dedup would reject it anyway.
			continue
		}

		job := &domain.PollingJob{
			TransactionID: tx.ID,
			ChainTxID:     tx.ChainTxID,
			RetryCount:    tx.RetryCount,
			LastCheckedAt: tx.LastCheckedAt,
		}
		err = s.q.Enqueue(ctx, job, queue.Options{Priority: domain.PriorityDefault})
		if errors.Is(err, queue.ErrDuplicateJob) {
			continue
		}
		if err != nil {
			return err
		}

		enqueued++
		metrics.ScheduledJobs.WithLabelValues("scheduler").Inc()
	}

	if enqueued > 0 {
		s.log.Debug("Reconciliation sweep enqueued jobs", "candidates", len(pending), "enqueued", enqueued)
	}

	if stats, err := s.q.Stats(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
		metrics.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
		metrics.QueueDepth.WithLabelValues("active").Set(float64(stats.Active))
	}
	return nil
}
