package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
)

// Key layout. The job payload key doubles as the dedup key: it exists for
// the whole waiting/delayed/active lifetime of a job, so a transaction can
// never be scheduled twice regardless of which set it currently sits in.
const (
	keyJob       = "reconciler:job:%s"
	keyWaiting   = "reconciler:waiting"
	keyDelayed   = "reconciler:delayed"
	keyActive    = "reconciler:active"
	keyDead      = "reconciler:dead"
	keyCompleted = "reconciler:completed"
	keyFailed    = "reconciler:failed"
	keyPaused    = "reconciler:paused"
)

func jobKey(transactionID string) string {
	return fmt.Sprintf(keyJob, transactionID)
}

// QueueConfig tunes broker behaviour.
type QueueConfig struct {
	VisibilityTimeout time.Duration // active deadline before the stall detector requeues
	MaxAttempts       int           // broker-level delivery attempts before dead-letter
	PollInterval      time.Duration // idle sleep between pops
	RetryDelay        time.Duration // broker backoff base after a handler error
}

// DefaultQueueConfig returns sensible broker defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		VisibilityTimeout: 2 * time.Minute,
		MaxAttempts:       3,
		PollInterval:      250 * time.Millisecond,
		RetryDelay:        5 * time.Second,
	}
}

// Queue is the Redis-backed durable priority queue of polling jobs.
type Queue struct {
	rdb *redis.Client
	cfg QueueConfig
	log *slog.Logger
}

// NewQueue creates the queue on an existing client.
func NewQueue(client *Client, cfg QueueConfig) *Queue {
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 2 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Queue{
		rdb: client.rdb,
		cfg: cfg,
		log: slog.Default().With("component", "queue"),
	}
}

// Enqueue adds a job unless one already exists for the transaction.
func (q *Queue) Enqueue(ctx context.Context, job *domain.PollingJob, opts queue.Options) error {
	j := *job
	j.Priority = opts.Priority
	j.EnqueuedAt = time.Now()

	payload, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := q.rdb.SetNX(ctx, jobKey(j.TransactionID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx job: %w", err)
	}
	if !ok {
		return queue.ErrDuplicateJob
	}

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		err = q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: readyAt, Member: j.TransactionID}).Err()
	} else {
		err = q.rdb.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(opts.Priority), Member: j.TransactionID}).Err()
	}
	if err != nil {
		// Roll back the dedup key so the transaction is not wedged.
		q.rdb.Del(ctx, jobKey(j.TransactionID))
		return fmt.Errorf("zadd job: %w", err)
	}
	return nil
}

// Dequeue drains the queue with the given concurrency until ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context, concurrency int, handler queue.Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.drain(ctx, worker, handler)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (q *Queue) drain(ctx context.Context, worker int, handler queue.Handler) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		paused, err := q.rdb.Exists(ctx, keyPaused).Result()
		if err != nil || paused > 0 {
			continue
		}

		if err := q.promoteDelayed(ctx); err != nil {
			q.log.Warn("Failed to promote delayed jobs", "error", err)
		}
		if err := q.requeueStalled(ctx); err != nil {
			q.log.Warn("Failed to requeue stalled jobs", "error", err)
		}

		job, err := q.claim(ctx)
		if err != nil {
			q.log.Error("Failed to claim job", "worker", worker, "error", err)
			continue
		}
		if job == nil {
			continue
		}

		res, err := handler(ctx, job)
		q.settle(ctx, job, res, err)
	}
}

// promoteDelayed moves due delayed jobs into the waiting set at their
// stored priority.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, id := range due {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return err
		}

		priority := domain.PriorityDefault
		if job != nil {
			priority = job.Priority
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, keyDelayed, id)
		if job == nil {
			// Payload expired out from under the queue; drop the marker.
			_, err = pipe.Exec(ctx)
			if err != nil {
				return err
			}
			continue
		}
		pipe.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(priority), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// requeueStalled sweeps active jobs whose worker died past the visibility
// deadline back into the waiting set, dead-lettering over-attempted ones.
func (q *Queue) requeueStalled(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	stalled, err := q.rdb.ZRangeByScore(ctx, keyActive, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, id := range stalled {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			q.rdb.ZRem(ctx, keyActive, id)
			continue
		}

		job.Attempts++
		q.log.Warn("Requeuing stalled job", "tx", id, "attempts", job.Attempts)

		if job.Attempts >= q.cfg.MaxAttempts {
			if err := q.deadLetter(ctx, id, job); err != nil {
				return err
			}
			continue
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		pipe := q.rdb.TxPipeline()
		pipe.Set(ctx, jobKey(id), payload, 0)
		pipe.ZRem(ctx, keyActive, id)
		pipe.ZAdd(ctx, keyWaiting, redis.Z{Score: float64(job.Priority), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// claim pops the highest-priority waiting job and marks it active.
func (q *Queue) claim(ctx context.Context) (*domain.PollingJob, error) {
	popped, err := q.rdb.ZPopMin(ctx, keyWaiting, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("zpopmin: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	id, _ := popped[0].Member.(string)
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	deadline := float64(time.Now().Add(q.cfg.VisibilityTimeout).UnixMilli())
	if err := q.rdb.ZAdd(ctx, keyActive, redis.Z{Score: deadline, Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("zadd active: %w", err)
	}
	return job, nil
}

func (q *Queue) settle(ctx context.Context, job *domain.PollingJob, res queue.Result, handlerErr error) {
	id := job.TransactionID

	if handlerErr != nil {
		job.Attempts++
		q.log.Warn("Job handler failed", "tx", id, "attempts", job.Attempts, "error", handlerErr)

		if job.Attempts >= q.cfg.MaxAttempts {
			if err := q.deadLetter(ctx, id, job); err != nil {
				q.log.Error("Failed to dead-letter job", "tx", id, "error", err)
			}
			return
		}

		// Broker-level retry with linear backoff, independent of the
		// engine's own retryCount.
		delay := time.Duration(job.Attempts) * q.cfg.RetryDelay
		if err := q.reschedule(ctx, id, job, delay); err != nil {
			q.log.Error("Failed to reschedule job", "tx", id, "error", err)
		}
		return
	}

	if res.Requeue {
		job.Attempts = 0
		if err := q.reschedule(ctx, id, job, res.Delay); err != nil {
			q.log.Error("Failed to re-enqueue job", "tx", id, "error", err)
		}
		return
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.Del(ctx, jobKey(id))
	pipe.Incr(ctx, keyCompleted)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("Failed to complete job", "tx", id, "error", err)
	}
}

func (q *Queue) reschedule(ctx context.Context, id string, job *domain.PollingJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(id), payload, 0)
	pipe.ZRem(ctx, keyActive, id)
	pipe.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) deadLetter(ctx context.Context, id string, job *domain.PollingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.Del(ctx, jobKey(id))
	pipe.LPush(ctx, keyDead, payload)
	pipe.Incr(ctx, keyFailed)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) loadJob(ctx context.Context, id string) (*domain.PollingJob, error) {
	data, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job payload: %w", err)
	}

	var job domain.PollingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	return &job, nil
}

// Contains reports whether a job exists for the transaction in any state.
func (q *Queue) Contains(ctx context.Context, transactionID string) (bool, error) {
	n, err := q.rdb.Exists(ctx, jobKey(transactionID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists job: %w", err)
	}
	return n > 0, nil
}

// Stats returns a broker-side snapshot.
func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	var s queue.Stats

	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, keyWaiting)
	delayed := pipe.ZCard(ctx, keyDelayed)
	active := pipe.ZCard(ctx, keyActive)
	completed := pipe.Get(ctx, keyCompleted)
	failed := pipe.Get(ctx, keyFailed)
	paused := pipe.Exists(ctx, keyPaused)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return s, fmt.Errorf("queue stats: %w", err)
	}

	s.Waiting = waiting.Val()
	s.Delayed = delayed.Val()
	s.Active = active.Val()
	s.Completed, _ = completed.Int64()
	s.Failed, _ = failed.Int64()
	s.Paused = paused.Val() > 0
	return s, nil
}

// Pause stops deliveries; queued jobs are retained.
func (q *Queue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, keyPaused, "1", 0).Err()
}

// Resume re-enables deliveries.
func (q *Queue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, keyPaused).Err()
}

// Clear drops all queued jobs and their payloads.
func (q *Queue) Clear(ctx context.Context) error {
	var ids []string
	for _, key := range []string{keyWaiting, keyDelayed, keyActive} {
		members, err := q.rdb.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("zrange %s: %w", key, err)
		}
		ids = append(ids, members...)
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, jobKey(id))
	}
	pipe.Del(ctx, keyWaiting, keyDelayed, keyActive, keyDead)
	_, err := pipe.Exec(ctx)
	return err
}
