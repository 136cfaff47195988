package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionRepository is the narrow read/write API the engine holds on the
// transaction record store. The store is the single source of truth; the
// queue never carries authoritative state.
type TransactionRepository interface {
	// GetByID retrieves a transaction by id.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// FindPending returns non-terminal transactions with retry_count below
	// maxRetries whose last check is absent or older than recheckOlderThan.
	FindPending(ctx context.Context, maxRetries int, recheckOlderThan time.Time) ([]*domain.Transaction, error)

	// FindStuck returns transactions wedged in the given status with a
	// known chain tx id, untouched since olderThan.
	FindStuck(ctx context.Context, status domain.TxStatus, olderThan time.Time) ([]*domain.Transaction, error)

	// UpdateStatus applies the patch. When the stored (status,
	// confirmations) pair already matches, nothing is written, updated_at
	// is not bumped and changed is false so callers can skip duplicate
	// notifications. Terminal transactions are never overwritten.
	UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) (tx *domain.Transaction, changed bool, err error)

	// IncrementRetry bumps retry_count (capped at maxRetries) and touches
	// last_checked_at.
	IncrementRetry(ctx context.Context, id string, maxRetries int) (*domain.Transaction, error)

	// CountByStatus returns transaction counts grouped by status.
	CountByStatus(ctx context.Context) (map[domain.TxStatus]int, error)

	// DeleteTerminalOlderThan prunes terminal transactions updated before
	// the threshold. Returns the number of rows removed.
	DeleteTerminalOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}
