package notify

import (
	"context"
	"log/slog"

	"github.com/vietddude/reconciler/internal/core/domain"
)

// Config holds notification delivery configuration.
type Config struct {
	WebhookURL string `yaml:"webhook_url"` // empty disables webhook delivery
}

// Notifier receives terminal status transitions. Delivery is best-effort:
// implementations must never block or fail the status transition that
// triggered them.
type Notifier interface {
	NotifyTerminal(ctx context.Context, tx *domain.Transaction)
}

// LogNotifier writes terminal transitions to the log. Used in dev mode and
// as the fallback when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) NotifyTerminal(ctx context.Context, tx *domain.Transaction) {
	n.log.Info("Transaction reached terminal status",
		"tx", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount,
		"status", tx.Status,
		"errorCode", tx.ErrorCode,
	)
}
