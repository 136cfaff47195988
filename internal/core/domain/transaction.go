package domain

import "time"

// Transaction represents a tracked deposit or withdrawal into the pool.
// The engine mutates only the status, confirmation and retry fields; the
// rest is owned by the creation flow upstream.
type Transaction struct {
	ID                    string         `json:"id"`
	Type                  TxType         `json:"type"`
	Amount                string         `json:"amount"`
	Status                TxStatus       `json:"status"`
	ChainTxID             string         `json:"chain_tx_id,omitempty"`
	BlockHeight           *uint64        `json:"block_height,omitempty"`
	Confirmations         uint64         `json:"confirmations"`
	RequiredConfirmations uint64         `json:"required_confirmations"`
	RetryCount            int            `json:"retry_count"`
	LastCheckedAt         *time.Time     `json:"last_checked_at,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty"`
	ErrorCode             string         `json:"error_code,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusBroadcast  TxStatus = "broadcast"
	TxStatusConfirming TxStatus = "confirming"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusCancelled  TxStatus = "cancelled"
)

// IsTerminal reports whether no further polling may touch the transaction.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed || s == TxStatusCancelled
}

type TxType string

const (
	TxTypeDeposit    TxType = "deposit"
	TxTypeWithdrawal TxType = "withdrawal"
)

// Error codes recorded on terminal failed transitions.
const (
	ErrCodeBroadcastTimeout = "BROADCAST_TIMEOUT"
	ErrCodePollingTimeout   = "POLLING_TIMEOUT"
	ErrCodeChainRejected    = "CHAIN_REJECTED"
)

// ReasonForcedConfirmation marks a confirmed transition the engine forced
// after the stuck threshold without full confirmation bookkeeping.
const ReasonForcedConfirmation = "FORCED_CONFIRMATION"

// MetaForcedConfirmation is the metadata key set on forced transitions.
const MetaForcedConfirmation = "forcedConfirmation"

// StatusUpdate is the patch applied by UpdateTransactionStatus. Nil pointer
// fields are left untouched.
type StatusUpdate struct {
	Status        TxStatus
	ChainTxID     *string
	BlockHeight   *uint64
	Confirmations *uint64
	ErrorMessage  *string
	ErrorCode     *string
	Metadata      map[string]any
}

// ConfirmationCount derives the inclusive confirmation count from the chain
// tip and the inclusion height.
func ConfirmationCount(tipHeight, blockHeight uint64) uint64 {
	if tipHeight < blockHeight {
		return 0
	}
	return tipHeight - blockHeight + 1
}

// Age returns how long the transaction has existed at the given instant.
func (t *Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// SinceUpdate returns how long the transaction has been wedged in its
// current status at the given instant.
func (t *Transaction) SinceUpdate(now time.Time) time.Duration {
	return now.Sub(t.UpdatedAt)
}
