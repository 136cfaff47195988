package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/metrics"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/chain"
	"github.com/vietddude/reconciler/internal/infra/notify"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

// Worker drains the polling queue with bounded concurrency, advancing each
// transaction's state machine one poll at a time.
type Worker struct {
	repo        storage.TransactionRepository
	chainClient chain.StatusClient
	notifier    notify.Notifier
	q           queue.Queue
	backoff     queue.RetryStrategy
	policy      Policy
	concurrency int
	log         *slog.Logger
}

// NewWorker creates a polling worker pool.
func NewWorker(
	repo storage.TransactionRepository,
	chainClient chain.StatusClient,
	notifier notify.Notifier,
	q queue.Queue,
	backoff queue.RetryStrategy,
	policy Policy,
	concurrency int,
) *Worker {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Worker{
		repo:        repo,
		chainClient: chainClient,
		notifier:    notifier,
		q:           q,
		backoff:     backoff,
		policy:      policy,
		concurrency: concurrency,
		log:         slog.Default().With("component", "worker"),
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting polling workers", "concurrency", w.concurrency)
	return w.q.Dequeue(ctx, w.concurrency, w.Process)
}

// Process handles one polling job. Returning an error hands the job back to
// the broker's own retry; normal poll outcomes complete or re-enqueue.
func (w *Worker) Process(ctx context.Context, job *domain.PollingJob) (queue.Result, error) {
	start := time.Now()

	tx, err := w.repo.GetByID(ctx, job.TransactionID)
	if errors.Is(err, storage.ErrTransactionNotFound) {
		w.log.Warn("Dropping job for unknown transaction", "tx", job.TransactionID)
		metrics.PollsTotal.WithLabelValues("orphaned").Inc()
		return queue.Result{}, nil
	}
	if err != nil {
		return queue.Result{}, fmt.Errorf("load transaction: %w", err)
	}

	if tx.Status.IsTerminal() {
		// Cancelled or already resolved externally; abandon the job.
		metrics.PollsTotal.WithLabelValues("terminal").Inc()
		return queue.Result{}, nil
	}

	lk := w.lookup(ctx, tx)
	out := Evaluate(tx, job, lk, time.Now(), w.policy)

	res, err := w.apply(ctx, tx, job, out)
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	return res, err
}

// lookup gathers the chain answers the state machine needs.
func (w *Worker) lookup(ctx context.Context, tx *domain.Transaction) Lookup {
	var lk Lookup
	if tx.ChainTxID == "" {
		return lk
	}

	lk.Info, lk.Err = w.chainClient.GetTransaction(ctx, tx.ChainTxID)
	if lk.Err != nil {
		result := "error"
		if errors.Is(lk.Err, chain.ErrTxNotFound) {
			result = "not_found"
		}
		metrics.ChainCallsTotal.WithLabelValues("tx", result).Inc()
		return lk
	}
	metrics.ChainCallsTotal.WithLabelValues("tx", "ok").Inc()

	// The tip is only needed to recompute confirmations.
	if lk.Info.Status == chain.StatusSuccess && lk.Info.BlockHeight != nil {
		lk.Tip, lk.TipErr = w.chainClient.GetTipHeight(ctx)
		if lk.TipErr != nil {
			metrics.ChainCallsTotal.WithLabelValues("info", "error").Inc()
		} else {
			metrics.ChainCallsTotal.WithLabelValues("info", "ok").Inc()
		}
	}
	return lk
}

func (w *Worker) apply(ctx context.Context, tx *domain.Transaction, job *domain.PollingJob, out Outcome) (queue.Result, error) {
	if out.Update != nil {
		updated, changed, err := w.repo.UpdateStatus(ctx, tx.ID, *out.Update)
		if err != nil {
			return queue.Result{}, fmt.Errorf("update status: %w", err)
		}

		if changed {
			metrics.TransitionsTotal.WithLabelValues(string(tx.Status), string(updated.Status)).Inc()
			if out.Forced {
				metrics.ForcedConfirmations.Inc()
				w.log.Warn("Forced confirmation applied",
					"tx", tx.ID,
					"chainTx", tx.ChainTxID,
					"stuckFor", tx.SinceUpdate(time.Now()).Round(time.Second),
					"reason", domain.ReasonForcedConfirmation,
				)
			} else {
				w.log.Info("Transaction transitioned",
					"tx", tx.ID,
					"from", tx.Status,
					"to", updated.Status,
					"confirmations", updated.Confirmations,
				)
			}

			if updated.Status == domain.TxStatusConfirmed || updated.Status == domain.TxStatusFailed {
				// Best-effort boundary call; a notification failure
				// must never roll back the transition.
				w.notifier.NotifyTerminal(ctx, updated)
				metrics.NotificationsTotal.WithLabelValues(string(updated.Status)).Inc()
			}
		}

		tx = updated
	}

	if out.IncrementRetry {
		updated, err := w.repo.IncrementRetry(ctx, tx.ID, w.policy.MaxRetries)
		if err != nil {
			return queue.Result{}, fmt.Errorf("increment retry: %w", err)
		}
		tx = updated
		job.RetryCount = updated.RetryCount
	}

	if out.Requeue {
		metrics.PollsTotal.WithLabelValues("requeued").Inc()
		now := time.Now()
		job.LastCheckedAt = &now
		job.Escalated = false
		return queue.Result{
			Requeue: true,
			Delay:   w.backoff.GetDelay(tx.RetryCount),
		}, nil
	}

	metrics.PollsTotal.WithLabelValues("resolved").Inc()
	return queue.Result{}, nil
}
