package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/storage/memory"
)

func testScheduler(q queue.Queue) (*Scheduler, *memory.TxRepo) {
	repo := memory.NewTxRepo(memory.NewMemoryStorage())
	s := New(Config{
		Interval:        30 * time.Second,
		RecheckInterval: 15 * time.Second,
		MaxRetries:      50,
	}, repo, q)
	return s, repo
}

func TestTick_EnqueuesPendingTransactions(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, repo := testScheduler(q)

	repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusBroadcast, ChainTxID: "0xa"})
	repo.Seed(&domain.Transaction{ID: "tx-2", Status: domain.TxStatusConfirming, ChainTxID: "0xb"})
	repo.Seed(&domain.Transaction{ID: "tx-3", Status: domain.TxStatusConfirmed, ChainTxID: "0xc"})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	for _, id := range []string{"tx-1", "tx-2"} {
		if ok, _ := q.Contains(context.Background(), id); !ok {
			t.Errorf("expected %s to be enqueued", id)
		}
	}
	// Terminal transactions are never scheduled.
	if ok, _ := q.Contains(context.Background(), "tx-3"); ok {
		t.Error("confirmed transaction must not be enqueued")
	}
}

func TestTick_SkipsAlreadyQueued(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, repo := testScheduler(q)

	repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusBroadcast, ChainTxID: "0xa"})

	// Already queued with a delay, as after a worker re-enqueue.
	err := q.Enqueue(context.Background(),
		&domain.PollingJob{TransactionID: "tx-1"},
		queue.Options{Delay: time.Hour})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick must tolerate queued transactions: %v", err)
	}

	s2, _ := q.Stats(context.Background())
	if s2.Delayed != 1 || s2.Waiting != 0 {
		t.Errorf("sweep double-scheduled a delayed job: %+v", s2)
	}
}

func TestTick_RespectsRecheckInterval(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, repo := testScheduler(q)

	recent := time.Now()
	repo.Seed(&domain.Transaction{
		ID:            "tx-1",
		Status:        domain.TxStatusConfirming,
		ChainTxID:     "0xa",
		LastCheckedAt: &recent,
	})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if ok, _ := q.Contains(context.Background(), "tx-1"); ok {
		t.Error("recently-checked transaction must wait out the recheck interval")
	}
}

func TestTick_SkipsExhaustedRetries(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, repo := testScheduler(q)

	repo.Seed(&domain.Transaction{
		ID:         "tx-1",
		Status:     domain.TxStatusConfirming,
		ChainTxID:  "0xa",
		RetryCount: 50,
	})

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if ok, _ := q.Contains(context.Background(), "tx-1"); ok {
		t.Error("exhausted transaction must not be re-scheduled by the sweep")
	}
}

func TestTick_IdempotentAcrossSweeps(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, repo := testScheduler(q)

	repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusBroadcast, ChainTxID: "0xa"})

	for i := 0; i < 3; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}

	stats, _ := q.Stats(context.Background())
	if stats.Waiting != 1 {
		t.Errorf("expected exactly one queued job after repeated sweeps, got %+v", stats)
	}
}

func TestStartStop(t *testing.T) {
	q := queue.NewMemoryQueue()
	s, _ := testScheduler(q)

	s.Start(context.Background())
	s.Stop()

	// Second Stop is a no-op, not a panic.
	s.Stop()
}
