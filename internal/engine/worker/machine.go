package worker

import (
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/infra/chain"
)

// Policy holds the reconciliation constants the state machine evaluates
// against.
type Policy struct {
	RequiredConfirmations uint64        // fallback when the record carries none
	MaxRetries            int
	BroadcastTimeout      time.Duration // max wait for a chain tx id
	ForceConfirmWindow    time.Duration // confirming age before degraded-tip fallback
	StuckThreshold        time.Duration // confirming age before escalated force-confirm
}

// Lookup carries the chain client answers for one poll. Err holds the tx
// lookup failure (chain.ErrTxNotFound or a transport error); TipErr holds
// the tip-height lookup failure when the tip was needed but unavailable.
type Lookup struct {
	Info   *chain.TxInfo
	Err    error
	Tip    uint64
	TipErr error
}

// Outcome is the state machine's verdict for one poll.
type Outcome struct {
	Update         *domain.StatusUpdate // nil = no store write
	IncrementRetry bool
	Requeue        bool // re-enqueue with backoff delay
	Forced         bool // forced confirmation applied
}

// Evaluate runs one poll through the transition rules. It is pure: all
// chain answers are passed in, no I/O happens here.
func Evaluate(tx *domain.Transaction, job *domain.PollingJob, lk Lookup, now time.Time, p Policy) Outcome {
	// Terminal records are immutable; the job is simply dropped.
	if tx.Status.IsTerminal() {
		return Outcome{}
	}

	// Retry budget exhausted without resolution: distinct code so
	// operators can tell "we gave up" from "chain rejected it".
	if tx.RetryCount >= p.MaxRetries {
		return failOutcome("polling retries exhausted", domain.ErrCodePollingTimeout)
	}

	// Not broadcast yet: no chain id to look up.
	if tx.ChainTxID == "" {
		if tx.Age(now) > p.BroadcastTimeout {
			return failOutcome("transaction was never broadcast", domain.ErrCodeBroadcastTimeout)
		}
		return retryOutcome()
	}

	out := evaluateLookup(tx, lk, now, p)

	// Monitor-escalated jobs get one live check; if the transaction is
	// still wedged in confirming past the stuck threshold and the check
	// stayed indeterminate, availability wins over bookkeeping.
	if job.Escalated && out.Requeue && !out.Forced &&
		tx.Status == domain.TxStatusConfirming &&
		tx.SinceUpdate(now) >= p.StuckThreshold {
		return forcedConfirmOutcome()
	}

	return out
}

func evaluateLookup(tx *domain.Transaction, lk Lookup, now time.Time, p Policy) Outcome {
	if lk.Err != nil {
		// Not visible yet (404) and transport flakiness take the same
		// path: retry with backoff, no status change. Long-stuck
		// transactions escalate through the monitor instead.
		return retryOutcome()
	}

	status := lk.Info.Status

	if chain.IsAborted(status) {
		return failOutcome(status, domain.ErrCodeChainRejected)
	}

	if status != chain.StatusSuccess {
		// Unrecognized or still pending on chain: conservative retry.
		return retryOutcome()
	}

	required := tx.RequiredConfirmations
	if required == 0 {
		required = p.RequiredConfirmations
	}

	if lk.Info.BlockHeight == nil {
		// Accepted but no inclusion height reported.
		if inConfirmingWindow(tx, now, p) {
			return forcedConfirmOutcome()
		}
		return confirmingOutcome(nil, nil)
	}

	blockHeight := *lk.Info.BlockHeight

	if lk.TipErr != nil {
		// Tip unknown, so confirmations cannot be recomputed.
		if inConfirmingWindow(tx, now, p) {
			return forcedConfirmOutcome()
		}
		return confirmingOutcome(&blockHeight, nil)
	}

	confirmations := domain.ConfirmationCount(lk.Tip, blockHeight)

	// Confirmations never move backwards once confirming.
	if tx.Status == domain.TxStatusConfirming && confirmations < tx.Confirmations {
		confirmations = tx.Confirmations
	}

	if confirmations >= required {
		return Outcome{
			Update: &domain.StatusUpdate{
				Status:        domain.TxStatusConfirmed,
				BlockHeight:   &blockHeight,
				Confirmations: &confirmations,
			},
		}
	}

	return confirmingOutcome(&blockHeight, &confirmations)
}

func inConfirmingWindow(tx *domain.Transaction, now time.Time, p Policy) bool {
	switch tx.Status {
	case domain.TxStatusConfirming, domain.TxStatusPending:
		return tx.SinceUpdate(now) > p.ForceConfirmWindow
	}
	return false
}

func retryOutcome() Outcome {
	return Outcome{IncrementRetry: true, Requeue: true}
}

func failOutcome(message, code string) Outcome {
	return Outcome{
		Update: &domain.StatusUpdate{
			Status:       domain.TxStatusFailed,
			ErrorMessage: &message,
			ErrorCode:    &code,
		},
	}
}

func confirmingOutcome(blockHeight, confirmations *uint64) Outcome {
	return Outcome{
		Update: &domain.StatusUpdate{
			Status:        domain.TxStatusConfirming,
			BlockHeight:   blockHeight,
			Confirmations: confirmations,
		},
		IncrementRetry: true,
		Requeue:        true,
	}
}

func forcedConfirmOutcome() Outcome {
	return Outcome{
		Update: &domain.StatusUpdate{
			Status: domain.TxStatusConfirmed,
			Metadata: map[string]any{
				domain.MetaForcedConfirmation: true,
				"reason":                      domain.ReasonForcedConfirmation,
			},
		},
		Forced: true,
	}
}
