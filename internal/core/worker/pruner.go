package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/reconciler/internal/engine/metrics"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

// Pruner deletes old terminal transactions based on retention policy.
type Pruner struct {
	retention time.Duration
	repo      storage.TransactionRepository
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero retention disables it.
func NewPruner(retention time.Duration, repo storage.TransactionRepository) *Pruner {
	return &Pruner{
		retention: retention,
		repo:      repo,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check interval: 10% of retention, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	threshold := time.Now().Add(-p.retention)

	removed, err := p.repo.DeleteTerminalOlderThan(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune transactions", "error", err)
		return
	}
	if removed > 0 {
		metrics.PrunedTransactions.Add(float64(removed))
		p.log.Info("Pruned terminal transactions", "removed", removed)
	}
}
