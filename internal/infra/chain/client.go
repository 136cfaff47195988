package chain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTxNotFound means the chain has not seen the transaction yet.
	// Callers retry; this is not a transport failure.
	ErrTxNotFound = errors.New("transaction not visible on chain")
)

// Config holds chain status endpoint configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TxInfo is the chain's view of a submitted transaction.
type TxInfo struct {
	Status      string  `json:"tx_status"`
	BlockHeight *uint64 `json:"block_height,omitempty"`
}

// StatusClient queries the external chain status endpoint. Pure
// request/response; the engine trusts its answers.
type StatusClient interface {
	// GetTransaction looks up a transaction by its chain id. Returns
	// ErrTxNotFound when the chain has not seen it yet.
	GetTransaction(ctx context.Context, chainTxID string) (*TxInfo, error)

	// GetTipHeight returns the current chain tip height. Also serves as a
	// liveness probe.
	GetTipHeight(ctx context.Context) (uint64, error)
}

// Chain tx_status values with fixed meaning for the state machine.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
)

// IsAborted reports whether the chain status is a terminal rejection.
func IsAborted(status string) bool {
	switch status {
	case "abort_by_response", "abort_by_post_condition":
		return true
	}
	return strings.HasPrefix(status, "dropped_")
}
