package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
)

type jobState string

const (
	stateWaiting jobState = "waiting"
	stateDelayed jobState = "delayed"
	stateActive  jobState = "active"
)

type memoryEntry struct {
	job      *domain.PollingJob
	state    jobState
	readyAt  time.Time // delayed jobs only
	deadline time.Time // active jobs only
	seq      uint64
}

// MemoryQueue is a mutex-guarded Queue used for tests and the no-redis dev
// mode. It enforces the same one-job-per-transaction contract as the Redis
// implementation.
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]*memoryEntry
	completed   int64
	failed      int64
	paused      bool
	seq         uint64
	maxAttempts int
	visibility  time.Duration
	pollEvery   time.Duration
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:        make(map[string]*memoryEntry),
		maxAttempts: 3,
		visibility:  time.Minute,
		pollEvery:   50 * time.Millisecond,
	}
}

// Enqueue adds a job unless one already exists for the transaction.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *domain.PollingJob, opts Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.TransactionID]; exists {
		return ErrDuplicateJob
	}

	j := *job
	j.Priority = opts.Priority
	j.EnqueuedAt = time.Now()
	q.seq++

	entry := &memoryEntry{job: &j, state: stateWaiting, seq: q.seq}
	if opts.Delay > 0 {
		entry.state = stateDelayed
		entry.readyAt = time.Now().Add(opts.Delay)
	}
	q.jobs[job.TransactionID] = entry
	return nil
}

// Dequeue drains the queue until ctx is cancelled.
func (q *MemoryQueue) Dequeue(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.drain(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entry := q.pop()
		if entry == nil {
			continue
		}

		res, err := handler(ctx, entry.job)
		q.settle(entry, res, err)
	}
}

// pop promotes due delayed jobs, requeues stalled active jobs, then claims
// the best waiting job (lowest priority value, oldest first).
func (q *MemoryQueue) pop() *memoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return nil
	}

	now := time.Now()
	candidates := make([]*memoryEntry, 0, len(q.jobs))
	for id, e := range q.jobs {
		switch e.state {
		case stateDelayed:
			if !now.Before(e.readyAt) {
				e.state = stateWaiting
				candidates = append(candidates, e)
			}
		case stateActive:
			if now.After(e.deadline) {
				// Worker died mid-processing; requeue.
				e.job.Attempts++
				if e.job.Attempts >= q.maxAttempts {
					delete(q.jobs, id)
					q.failed++
					continue
				}
				e.state = stateWaiting
				candidates = append(candidates, e)
			}
		case stateWaiting:
			candidates = append(candidates, e)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].job.Priority != candidates[j].job.Priority {
			return candidates[i].job.Priority < candidates[j].job.Priority
		}
		return candidates[i].seq < candidates[j].seq
	})

	best := candidates[0]
	best.state = stateActive
	best.deadline = now.Add(q.visibility)
	return best
}

func (q *MemoryQueue) settle(entry *memoryEntry, res Result, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := entry.job.TransactionID
	if err != nil {
		entry.job.Attempts++
		if entry.job.Attempts >= q.maxAttempts {
			delete(q.jobs, id)
			q.failed++
			return
		}
		entry.state = stateDelayed
		entry.readyAt = time.Now().Add(time.Duration(entry.job.Attempts) * time.Second)
		return
	}

	if res.Requeue {
		entry.state = stateDelayed
		entry.readyAt = time.Now().Add(res.Delay)
		entry.job.Attempts = 0
		return
	}

	delete(q.jobs, id)
	q.completed++
}

// Contains reports whether a job exists for the transaction in any state.
func (q *MemoryQueue) Contains(ctx context.Context, transactionID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[transactionID]
	return ok, nil
}

// Stats returns a snapshot of queue state.
func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Completed: q.completed, Failed: q.failed, Paused: q.paused}
	for _, e := range q.jobs {
		switch e.state {
		case stateWaiting:
			s.Waiting++
		case stateDelayed:
			s.Delayed++
		case stateActive:
			s.Active++
		}
	}
	return s, nil
}

// Pause stops deliveries; queued jobs are retained.
func (q *MemoryQueue) Pause(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return nil
}

// Resume re-enables deliveries.
func (q *MemoryQueue) Resume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	return nil
}

// Clear drops all queued jobs.
func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*memoryEntry)
	return nil
}
