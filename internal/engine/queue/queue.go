package queue

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
)

// ErrDuplicateJob is returned by Enqueue when a job with the same
// transaction id is already waiting, delayed or active. Delayed jobs
// count toward the dedup key so a self-re-enqueued job cannot be
// double-scheduled by the reconciliation sweep.
var ErrDuplicateJob = errors.New("job already queued for transaction")

// Options controls placement of an enqueued job.
type Options struct {
	Priority int           // lower value = higher priority
	Delay    time.Duration // time before the job becomes eligible to run
}

// Result tells the broker what to do with a handled job.
type Result struct {
	// Requeue puts the job back in the delayed set instead of completing
	// it. The job payload (retry count, escalation) is persisted as
	// returned by the handler.
	Requeue bool
	Delay   time.Duration
}

// Handler processes a dequeued polling job. Returning an error makes the
// broker retry the delivery (bounded attempts) before dead-lettering; a nil
// error completes or re-enqueues the job per the returned Result.
type Handler func(ctx context.Context, job *domain.PollingJob) (Result, error)

// Stats is a snapshot of broker-side queue state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

// Queue is a durable priority queue of polling jobs keyed by transaction id.
// The job-key dedup is the load-bearing contract: any broker (or a
// database table) can stand behind this interface as long as it enforces
// one job per transaction across waiting, delayed and active states.
type Queue interface {
	// Enqueue adds a job. Returns ErrDuplicateJob if one already exists
	// for the same transaction.
	Enqueue(ctx context.Context, job *domain.PollingJob, opts Options) error

	// Dequeue drains the queue with the given concurrency until ctx is
	// cancelled, invoking handler once per delivery.
	Dequeue(ctx context.Context, concurrency int, handler Handler) error

	// Contains reports whether a job for the transaction is waiting,
	// delayed or active.
	Contains(ctx context.Context, transactionID string) (bool, error)

	Stats(ctx context.Context) (Stats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clear(ctx context.Context) error
}
