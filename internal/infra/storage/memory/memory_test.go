package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

func uptr(v uint64) *uint64 { return &v }

func TestGetByID_NotFound(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestUpdateStatus_Transition(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusBroadcast})

	tx, changed, err := repo.UpdateStatus(context.Background(), "tx-1", domain.StatusUpdate{
		Status:        domain.TxStatusConfirming,
		BlockHeight:   uptr(100),
		Confirmations: uptr(3),
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if !changed {
		t.Fatal("expected a write")
	}
	if tx.Status != domain.TxStatusConfirming || tx.Confirmations != 3 {
		t.Errorf("unexpected state: %+v", tx)
	}
	if tx.BlockHeight == nil || *tx.BlockHeight != 100 {
		t.Errorf("block height not applied: %v", tx.BlockHeight)
	}
}

func TestUpdateStatus_NoOpWhenUnchanged(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{
		ID:            "tx-1",
		Status:        domain.TxStatusConfirming,
		Confirmations: 3,
	})

	before, _ := repo.GetByID(context.Background(), "tx-1")

	_, changed, err := repo.UpdateStatus(context.Background(), "tx-1", domain.StatusUpdate{
		Status:        domain.TxStatusConfirming,
		Confirmations: uptr(3),
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if changed {
		t.Fatal("identical (status, confirmations) pair must not write")
	}

	after, _ := repo.GetByID(context.Background(), "tx-1")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("no-op update must not bump updated_at")
	}
}

func TestUpdateStatus_ConfirmationChangeIsAWrite(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{
		ID:            "tx-1",
		Status:        domain.TxStatusConfirming,
		Confirmations: 3,
	})

	// Same status, new confirmation count: progress worth persisting.
	tx, changed, err := repo.UpdateStatus(context.Background(), "tx-1", domain.StatusUpdate{
		Status:        domain.TxStatusConfirming,
		Confirmations: uptr(4),
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if !changed || tx.Confirmations != 4 {
		t.Errorf("expected confirmation bump to write, got changed=%v tx=%+v", changed, tx)
	}
}

func TestUpdateStatus_TerminalImmutable(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())

	for _, status := range []domain.TxStatus{
		domain.TxStatusConfirmed, domain.TxStatusFailed, domain.TxStatusCancelled,
	} {
		id := string(status)
		repo.Seed(&domain.Transaction{ID: id, Status: status})

		tx, changed, err := repo.UpdateStatus(context.Background(), id, domain.StatusUpdate{
			Status: domain.TxStatusConfirming,
		})
		if err != nil {
			t.Fatalf("%s: UpdateStatus failed: %v", status, err)
		}
		if changed {
			t.Errorf("%s: terminal transaction was overwritten", status)
		}
		if tx.Status != status {
			t.Errorf("%s: status mutated to %s", status, tx.Status)
		}
	}
}

func TestUpdateStatus_MetadataMerged(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{
		ID:       "tx-1",
		Status:   domain.TxStatusConfirming,
		Metadata: map[string]any{"origin": "api"},
	})

	tx, changed, err := repo.UpdateStatus(context.Background(), "tx-1", domain.StatusUpdate{
		Status:   domain.TxStatusConfirmed,
		Metadata: map[string]any{domain.MetaForcedConfirmation: true},
	})
	if err != nil || !changed {
		t.Fatalf("UpdateStatus failed: changed=%v err=%v", changed, err)
	}
	if tx.Metadata["origin"] != "api" {
		t.Error("existing metadata dropped")
	}
	if forced, ok := tx.Metadata[domain.MetaForcedConfirmation].(bool); !ok || !forced {
		t.Error("new metadata not merged")
	}
}

func TestIncrementRetry_CapsAndTouches(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusBroadcast, RetryCount: 49})

	tx, err := repo.IncrementRetry(context.Background(), "tx-1", 50)
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if tx.RetryCount != 50 {
		t.Errorf("expected 50, got %d", tx.RetryCount)
	}
	if tx.LastCheckedAt == nil {
		t.Error("last_checked_at not touched")
	}

	// Capped at the limit.
	tx, err = repo.IncrementRetry(context.Background(), "tx-1", 50)
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if tx.RetryCount != 50 {
		t.Errorf("retry count exceeded cap: %d", tx.RetryCount)
	}
}

func TestIncrementRetry_DoesNotResetStuckClock(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	past := time.Now().Add(-time.Hour)
	repo.Seed(&domain.Transaction{
		ID:        "tx-1",
		Status:    domain.TxStatusConfirming,
		CreatedAt: past,
		UpdatedAt: past,
	})

	tx, err := repo.IncrementRetry(context.Background(), "tx-1", 50)
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if !tx.UpdatedAt.Equal(past) {
		t.Error("retry bookkeeping must not bump updated_at")
	}
}

func TestFindPending_Filters(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	recent := time.Now()
	old := time.Now().Add(-time.Hour)

	repo.Seed(&domain.Transaction{ID: "due", Status: domain.TxStatusBroadcast, LastCheckedAt: &old})
	repo.Seed(&domain.Transaction{ID: "never-checked", Status: domain.TxStatusPending})
	repo.Seed(&domain.Transaction{ID: "just-checked", Status: domain.TxStatusBroadcast, LastCheckedAt: &recent})
	repo.Seed(&domain.Transaction{ID: "exhausted", Status: domain.TxStatusBroadcast, RetryCount: 50})
	repo.Seed(&domain.Transaction{ID: "done", Status: domain.TxStatusConfirmed})

	pending, err := repo.FindPending(context.Background(), 50, time.Now().Add(-15*time.Second))
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}

	got := make(map[string]bool)
	for _, tx := range pending {
		got[tx.ID] = true
	}
	if !got["due"] || !got["never-checked"] {
		t.Errorf("expected due and never-checked, got %v", got)
	}
	if got["just-checked"] || got["exhausted"] || got["done"] {
		t.Errorf("filter leaked: %v", got)
	}
}

func TestFindStuck_RequiresChainTxID(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	past := time.Now().Add(-3 * time.Hour)

	repo.Seed(&domain.Transaction{ID: "with-id", Status: domain.TxStatusConfirming, ChainTxID: "0xa", CreatedAt: past, UpdatedAt: past})
	repo.Seed(&domain.Transaction{ID: "without-id", Status: domain.TxStatusConfirming, CreatedAt: past, UpdatedAt: past})

	stuck, err := repo.FindStuck(context.Background(), domain.TxStatusConfirming, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("FindStuck failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "with-id" {
		t.Errorf("expected only with-id, got %v", stuck)
	}
}

func TestDeleteTerminalOlderThan(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	past := time.Now().Add(-48 * time.Hour)

	repo.Seed(&domain.Transaction{ID: "old-done", Status: domain.TxStatusConfirmed, CreatedAt: past, UpdatedAt: past})
	repo.Seed(&domain.Transaction{ID: "old-live", Status: domain.TxStatusConfirming, CreatedAt: past, UpdatedAt: past})
	repo.Seed(&domain.Transaction{ID: "new-done", Status: domain.TxStatusConfirmed})

	removed, err := repo.DeleteTerminalOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := repo.GetByID(context.Background(), "old-live"); err != nil {
		t.Error("non-terminal transaction pruned")
	}
	if _, err := repo.GetByID(context.Background(), "new-done"); err != nil {
		t.Error("recent terminal transaction pruned")
	}
}

func TestCountByStatus(t *testing.T) {
	repo := NewTxRepo(NewMemoryStorage())
	repo.Seed(&domain.Transaction{ID: "a", Status: domain.TxStatusConfirming})
	repo.Seed(&domain.Transaction{ID: "b", Status: domain.TxStatusConfirming})
	repo.Seed(&domain.Transaction{ID: "c", Status: domain.TxStatusFailed})

	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[domain.TxStatusConfirming] != 2 || counts[domain.TxStatusFailed] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
