package domain

import "time"

// PollingJob is one unit of reconciliation work. Its identity key equals the
// transaction id, so at most one job per transaction may be waiting, delayed
// or active at a time.
type PollingJob struct {
	TransactionID string     `json:"transaction_id"`
	ChainTxID     string     `json:"chain_tx_id,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	Escalated     bool       `json:"escalated,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
}

// Queue priorities, lower value runs first.
const (
	PriorityHigh    = 1
	PriorityDefault = 5
)
