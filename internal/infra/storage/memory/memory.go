package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

// MemoryStorage keeps transactions in a mutex-guarded map. Used for tests
// and the no-database dev mode.
type MemoryStorage struct {
	txs map[string]*domain.Transaction
	mu  sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		txs: make(map[string]*domain.Transaction),
	}
}

// TxRepo implements storage.TransactionRepository on MemoryStorage.
type TxRepo struct {
	store *MemoryStorage
}

func NewTxRepo(store *MemoryStorage) *TxRepo {
	return &TxRepo{store: store}
}

// Seed inserts a transaction directly, standing in for the external
// creation flow.
func (r *TxRepo) Seed(tx *domain.Transaction) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *tx
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.store.txs[cp.ID] = &cp
}

func (r *TxRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	tx, ok := r.store.txs[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *TxRepo) FindPending(ctx context.Context, maxRetries int, recheckOlderThan time.Time) ([]*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var res []*domain.Transaction
	for _, tx := range r.store.txs {
		if tx.Status.IsTerminal() || tx.RetryCount >= maxRetries {
			continue
		}
		if tx.LastCheckedAt != nil && !tx.LastCheckedAt.Before(recheckOlderThan) {
			continue
		}
		cp := *tx
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *TxRepo) FindStuck(ctx context.Context, status domain.TxStatus, olderThan time.Time) ([]*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var res []*domain.Transaction
	for _, tx := range r.store.txs {
		if tx.Status != status || tx.ChainTxID == "" {
			continue
		}
		if !tx.UpdatedAt.Before(olderThan) {
			continue
		}
		cp := *tx
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.Before(res[j].UpdatedAt) })
	return res, nil
}

func (r *TxRepo) UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) (*domain.Transaction, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx, ok := r.store.txs[id]
	if !ok {
		return nil, false, storage.ErrTransactionNotFound
	}

	newConfirmations := tx.Confirmations
	if update.Confirmations != nil {
		newConfirmations = *update.Confirmations
	}

	// Terminal records are immutable; identical pairs are a no-op.
	if tx.Status.IsTerminal() ||
		(tx.Status == update.Status && tx.Confirmations == newConfirmations) {
		cp := *tx
		return &cp, false, nil
	}

	tx.Status = update.Status
	tx.Confirmations = newConfirmations
	if update.ChainTxID != nil {
		tx.ChainTxID = *update.ChainTxID
	}
	if update.BlockHeight != nil {
		tx.BlockHeight = update.BlockHeight
	}
	if update.ErrorMessage != nil {
		tx.ErrorMessage = *update.ErrorMessage
	}
	if update.ErrorCode != nil {
		tx.ErrorCode = *update.ErrorCode
	}
	if update.Metadata != nil {
		if tx.Metadata == nil {
			tx.Metadata = make(map[string]any)
		}
		for k, v := range update.Metadata {
			tx.Metadata[k] = v
		}
	}
	tx.UpdatedAt = time.Now()

	cp := *tx
	return &cp, true, nil
}

func (r *TxRepo) IncrementRetry(ctx context.Context, id string, maxRetries int) (*domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx, ok := r.store.txs[id]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}

	if tx.RetryCount < maxRetries {
		tx.RetryCount++
	}
	now := time.Now()
	tx.LastCheckedAt = &now

	cp := *tx
	return &cp, nil
}

func (r *TxRepo) CountByStatus(ctx context.Context) (map[domain.TxStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[domain.TxStatus]int)
	for _, tx := range r.store.txs {
		counts[tx.Status]++
	}
	return counts, nil
}

func (r *TxRepo) DeleteTerminalOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var removed int64
	for id, tx := range r.store.txs {
		if tx.Status.IsTerminal() && tx.UpdatedAt.Before(olderThan) {
			delete(r.store.txs, id)
			removed++
		}
	}
	return removed, nil
}
