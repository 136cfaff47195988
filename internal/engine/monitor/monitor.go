package monitor

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

// Config holds stuck-transaction monitor settings.
type Config struct {
	Interval       time.Duration // sweep tick, slower than the scheduler
	StuckThreshold time.Duration // confirming age before escalation
}

// Monitor sweeps for transactions wedged in confirming beyond the stuck
// threshold and re-injects them as escalated high-priority jobs. The worker
// performs the final live check and, if still indeterminate, the forced
// confirmation. failed and cancelled are never escalated.
type Monitor struct {
	cfg    Config
	repo   storage.TransactionRepository
	q      queue.Queue
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a stuck-transaction monitor.
func New(cfg Config, repo storage.TransactionRepository, q queue.Queue) *Monitor {
	return &Monitor{
		cfg:  cfg,
		repo: repo,
		q:    q,
		log:  slog.Default().With("component", "monitor"),
	}
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.log.Info("Stuck-transaction monitor started",
			"interval", m.cfg.Interval, "threshold", m.cfg.StuckThreshold)
		for {
			select {
			case <-ctx.Done():
				m.log.Info("Stuck-transaction monitor stopped")
				return
			case <-ticker.C:
				if err := m.Tick(ctx); err != nil {
					m.log.Error("Stuck sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

// ListStuck returns the transactions currently past the stuck threshold.
func (m *Monitor) ListStuck(ctx context.Context) ([]*domain.Transaction, error) {
	cutoff := time.Now().Add(-m.cfg.StuckThreshold)
	return m.repo.FindStuck(ctx, domain.TxStatusConfirming, cutoff)
}

// Tick runs one stuck sweep. Exported so tests can drive it synchronously.
func (m *Monitor) Tick(ctx context.Context) error {
	stuck, err := m.ListStuck(ctx)
	if err != nil {
		return err
	}

	for _, tx := range stuck {
		job := &domain.PollingJob{
			TransactionID: tx.ID,
			ChainTxID:     tx.ChainTxID,
			RetryCount:    tx.RetryCount,
			LastCheckedAt: tx.LastCheckedAt,
			Escalated:     true,
		}
		err := m.q.Enqueue(ctx, job, queue.Options{Priority: domain.PriorityHigh})
		if errors.Is(err, queue.ErrDuplicateJob) {
			// A regular job is still in flight; the next sweep
			// escalates if it stays wedged.
			continue
		}
		if err != nil {
			return err
		}

		m.log.Warn("Escalated stuck transaction",
			"tx", tx.ID,
			"chainTx", tx.ChainTxID,
			"stuckFor", tx.SinceUpdate(time.Now()).Round(time.Second),
		)
		metrics.ScheduledJobs.WithLabelValues("monitor").Inc()
	}
	return nil
}
