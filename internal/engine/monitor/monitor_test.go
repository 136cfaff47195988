package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/storage/memory"
)

func testMonitor(q queue.Queue) (*Monitor, *memory.TxRepo) {
	repo := memory.NewTxRepo(memory.NewMemoryStorage())
	m := New(Config{
		Interval:       5 * time.Minute,
		StuckThreshold: 2 * time.Hour,
	}, repo, q)
	return m, repo
}

func seedStuck(repo *memory.TxRepo, id string, age time.Duration) {
	past := time.Now().Add(-age)
	repo.Seed(&domain.Transaction{
		ID:        id,
		Status:    domain.TxStatusConfirming,
		ChainTxID: "0x" + id,
		CreatedAt: past,
		UpdatedAt: past,
	})
}

func TestTick_EscalatesStuckConfirming(t *testing.T) {
	q := queue.NewMemoryQueue()
	m, repo := testMonitor(q)

	seedStuck(repo, "stuck", 3*time.Hour)
	seedStuck(repo, "fresh", 10*time.Minute)

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if ok, _ := q.Contains(context.Background(), "stuck"); !ok {
		t.Fatal("stuck transaction must be escalated")
	}
	if ok, _ := q.Contains(context.Background(), "fresh"); ok {
		t.Error("transaction inside the threshold must not be escalated")
	}
}

func TestTick_EscalatedJobIsHighPriorityAndMarked(t *testing.T) {
	q := queue.NewMemoryQueue()
	m, repo := testMonitor(q)

	seedStuck(repo, "stuck", 3*time.Hour)
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	// Also queue a regular job; the escalated one must be delivered first.
	err := q.Enqueue(context.Background(),
		&domain.PollingJob{TransactionID: "other"},
		queue.Options{Priority: domain.PriorityDefault})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan *domain.PollingJob, 1)
	go q.Dequeue(ctx, 1, func(ctx context.Context, job *domain.PollingJob) (queue.Result, error) {
		select {
		case first <- job:
		default:
		}
		return queue.Result{}, nil
	})

	select {
	case job := <-first:
		if job.TransactionID != "stuck" {
			t.Errorf("expected escalated job first, got %s", job.TransactionID)
		}
		if !job.Escalated {
			t.Error("escalated job must carry the escalation marker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestTick_NeverEscalatesTerminal(t *testing.T) {
	q := queue.NewMemoryQueue()
	m, repo := testMonitor(q)

	past := time.Now().Add(-3 * time.Hour)
	for _, status := range []domain.TxStatus{
		domain.TxStatusFailed, domain.TxStatusCancelled, domain.TxStatusConfirmed,
	} {
		repo.Seed(&domain.Transaction{
			ID:        string(status),
			Status:    status,
			ChainTxID: "0xdead",
			CreatedAt: past,
			UpdatedAt: past,
		})
	}

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	stats, _ := q.Stats(context.Background())
	if stats.Waiting != 0 || stats.Delayed != 0 {
		t.Errorf("terminal transactions escalated: %+v", stats)
	}
}

func TestTick_ToleratesInFlightJob(t *testing.T) {
	q := queue.NewMemoryQueue()
	m, repo := testMonitor(q)

	seedStuck(repo, "stuck", 3*time.Hour)

	// A regular job is already delayed for this transaction.
	err := q.Enqueue(context.Background(),
		&domain.PollingJob{TransactionID: "stuck"},
		queue.Options{Delay: time.Hour})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick must tolerate duplicate jobs: %v", err)
	}

	stats, _ := q.Stats(context.Background())
	if stats.Delayed != 1 || stats.Waiting != 0 {
		t.Errorf("duplicate escalation slipped through: %+v", stats)
	}
}

func TestListStuck(t *testing.T) {
	q := queue.NewMemoryQueue()
	m, repo := testMonitor(q)

	seedStuck(repo, "old", 4*time.Hour)
	seedStuck(repo, "older", 6*time.Hour)
	seedStuck(repo, "fresh", time.Minute)

	stuck, err := m.ListStuck(context.Background())
	if err != nil {
		t.Fatalf("ListStuck failed: %v", err)
	}
	if len(stuck) != 2 {
		t.Fatalf("expected 2 stuck transactions, got %d", len(stuck))
	}
	// Oldest first.
	if stuck[0].ID != "older" {
		t.Errorf("expected oldest first, got %s", stuck[0].ID)
	}
}
