package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/reconciler/internal/core/domain"
)

// WebhookNotifier POSTs terminal transitions to the messaging subsystem.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(cfg Config) *WebhookNotifier {
	return &WebhookNotifier{
		url: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: slog.Default().With("component", "notify"),
	}
}

type terminalEvent struct {
	EventID       string `json:"event_id"`
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// NotifyTerminal delivers the event. Failures are logged and swallowed; the
// status transition already happened and must not roll back.
func (n *WebhookNotifier) NotifyTerminal(ctx context.Context, tx *domain.Transaction) {
	event := terminalEvent{
		EventID:       uuid.New().String(),
		TransactionID: tx.ID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Status:        string(tx.Status),
		ErrorMessage:  tx.ErrorMessage,
		ErrorCode:     tx.ErrorCode,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("Failed to marshal notification", "tx", tx.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.log.Error("Failed to build notification request", "tx", tx.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("Notification delivery failed", "tx", tx.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("Notification rejected", "tx", tx.ID, "status", resp.StatusCode)
		return
	}

	n.log.Debug("Notification delivered", "tx", tx.ID, "event", event.EventID)
}
