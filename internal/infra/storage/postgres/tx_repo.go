package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

const terminalStatuses = `('confirmed', 'failed', 'cancelled')`

// TxRepo implements storage.TransactionRepository using PostgreSQL.
type TxRepo struct {
	db *DB
}

// NewTxRepo creates a new PostgreSQL transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db}
}

type txRow struct {
	ID                    string         `db:"id"`
	Type                  string         `db:"type"`
	Amount                string         `db:"amount"`
	Status                string         `db:"status"`
	ChainTxID             sql.NullString `db:"chain_tx_id"`
	BlockHeight           *uint64        `db:"block_height"`
	Confirmations         uint64         `db:"confirmations"`
	RequiredConfirmations uint64         `db:"required_confirmations"`
	RetryCount            int            `db:"retry_count"`
	LastCheckedAt         *time.Time     `db:"last_checked_at"`
	ErrorMessage          sql.NullString `db:"error_message"`
	ErrorCode             sql.NullString `db:"error_code"`
	Metadata              []byte         `db:"metadata"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r *txRow) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:                    r.ID,
		Type:                  domain.TxType(r.Type),
		Amount:                r.Amount,
		Status:                domain.TxStatus(r.Status),
		BlockHeight:           r.BlockHeight,
		Confirmations:         r.Confirmations,
		RequiredConfirmations: r.RequiredConfirmations,
		RetryCount:            r.RetryCount,
		LastCheckedAt:         r.LastCheckedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.ChainTxID.Valid {
		tx.ChainTxID = r.ChainTxID.String
	}
	if r.ErrorMessage.Valid {
		tx.ErrorMessage = r.ErrorMessage.String
	}
	if r.ErrorCode.Valid {
		tx.ErrorCode = r.ErrorCode.String
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &tx.Metadata)
	}
	return tx
}

const selectColumns = `
	id, type, amount, status, chain_tx_id, block_height, confirmations,
	required_confirmations, retry_count, last_checked_at, error_message,
	error_code, metadata, created_at, updated_at
`

// GetByID retrieves a transaction by id.
func (r *TxRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM transactions WHERE id = $1`

	var row txRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return row.toDomain(), nil
}

// FindPending returns non-terminal transactions eligible for a poll.
func (r *TxRepo) FindPending(ctx context.Context, maxRetries int, recheckOlderThan time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions
		WHERE status NOT IN ` + terminalStatuses + `
		  AND retry_count < $1
		  AND (last_checked_at IS NULL OR last_checked_at < $2)
		ORDER BY created_at ASC
		LIMIT 500
	`

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, maxRetries, recheckOlderThan); err != nil {
		return nil, fmt.Errorf("failed to find pending transactions: %w", err)
	}

	txs := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toDomain())
	}
	return txs, nil
}

// FindStuck returns transactions wedged in a status beyond the threshold.
func (r *TxRepo) FindStuck(ctx context.Context, status domain.TxStatus, olderThan time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM transactions
		WHERE status = $1
		  AND chain_tx_id IS NOT NULL
		  AND updated_at < $2
		ORDER BY updated_at ASC
	`

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, string(status), olderThan); err != nil {
		return nil, fmt.Errorf("failed to find stuck transactions: %w", err)
	}

	txs := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toDomain())
	}
	return txs, nil
}

// UpdateStatus applies the patch. The WHERE guards make the write a no-op
// when the (status, confirmations) pair is unchanged or the transaction is
// already terminal, so updated_at only moves on real transitions.
func (r *TxRepo) UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) (*domain.Transaction, bool, error) {
	var metadata []byte
	if update.Metadata != nil {
		var err error
		metadata, err = json.Marshal(update.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		UPDATE transactions SET
			status          = $2,
			chain_tx_id     = COALESCE($3, chain_tx_id),
			block_height    = COALESCE($4, block_height),
			confirmations   = COALESCE($5, confirmations),
			error_message   = COALESCE($6, error_message),
			error_code      = COALESCE($7, error_code),
			metadata        = COALESCE($8, metadata),
			updated_at      = NOW()
		WHERE id = $1
		  AND status NOT IN ` + terminalStatuses + `
		  AND (status <> $2 OR confirmations <> COALESCE($5, confirmations))
	`

	res, err := r.db.ExecContext(ctx, query,
		id, string(update.Status), update.ChainTxID, update.BlockHeight,
		update.Confirmations, update.ErrorMessage, update.ErrorCode, metadata,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	tx, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return tx, affected > 0, nil
}

// IncrementRetry bumps retry_count and touches last_checked_at. It leaves
// updated_at alone so retries don't reset stuck detection.
func (r *TxRepo) IncrementRetry(ctx context.Context, id string, maxRetries int) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET retry_count = LEAST(retry_count + 1, $2), last_checked_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, maxRetries); err != nil {
		return nil, fmt.Errorf("failed to increment retry: %w", err)
	}
	return r.GetByID(ctx, id)
}

// CountByStatus returns transaction counts grouped by status.
func (r *TxRepo) CountByStatus(ctx context.Context) (map[domain.TxStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TxStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.TxStatus(status)] = count
	}
	return counts, rows.Err()
}

// DeleteTerminalOlderThan prunes old terminal transactions.
func (r *TxRepo) DeleteTerminalOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM transactions WHERE status IN ` + terminalStatuses + ` AND updated_at < $1`
	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}
	return res.RowsAffected()
}
