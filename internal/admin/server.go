package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/chain"
	"github.com/vietddude/reconciler/internal/infra/notify"
	"github.com/vietddude/reconciler/internal/infra/storage"
)

// StuckLister exposes the monitor's view of wedged transactions.
type StuckLister interface {
	ListStuck(ctx context.Context) ([]*domain.Transaction, error)
}

// Server provides the operator HTTP API: health, metrics, queue controls
// and manual per-transaction interventions.
type Server struct {
	repo        storage.TransactionRepository
	q           queue.Queue
	chainClient chain.StatusClient
	notifier    notify.Notifier
	stuck       StuckLister
	server      *http.Server
	log         *slog.Logger
}

// NewServer creates the operator API server.
func NewServer(
	port int,
	repo storage.TransactionRepository,
	q queue.Queue,
	chainClient chain.StatusClient,
	notifier notify.Notifier,
	stuck StuckLister,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		repo:        repo,
		q:           q,
		chainClient: chainClient,
		notifier:    notifier,
		stuck:       stuck,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default().With("component", "admin"),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)
	mux.HandleFunc("POST /queue/pause", s.handleQueuePause)
	mux.HandleFunc("POST /queue/resume", s.handleQueueResume)
	mux.HandleFunc("POST /queue/clear", s.handleQueueClear)
	mux.HandleFunc("POST /transactions/{id}/poll", s.handleTriggerPoll)
	mux.HandleFunc("POST /transactions/{id}/force-confirm", s.handleForceConfirm)
	mux.HandleFunc("GET /transactions/stuck", s.handleListStuck)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true

	if _, err := s.chainClient.GetTipHeight(r.Context()); err != nil {
		healthy = false
	}
	if _, err := s.q.Stats(r.Context()); err != nil {
		healthy = false
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := map[string]any{"checked_at": time.Now().UTC().Format(time.RFC3339)}

	tip, err := s.chainClient.GetTipHeight(ctx)
	if err != nil {
		report["chain"] = map[string]any{"status": "unreachable", "error": err.Error()}
	} else {
		report["chain"] = map[string]any{"status": "ok", "tip_height": tip}
	}

	stats, err := s.q.Stats(ctx)
	if err != nil {
		report["queue"] = map[string]any{"status": "unreachable", "error": err.Error()}
	} else {
		report["queue"] = stats
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		report["store"] = map[string]any{"status": "unreachable", "error": err.Error()}
	} else {
		report["store"] = counts
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.q.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Warn("Queue paused by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("Queue resumed by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Warn("Queue cleared by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleTriggerPoll enqueues an immediate high-priority poll for one
// transaction.
func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	tx, err := s.repo.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrTransactionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tx.Status.IsTerminal() {
		writeError(w, http.StatusConflict, fmt.Errorf("transaction is already %s", tx.Status))
		return
	}

	job := &domain.PollingJob{
		TransactionID: tx.ID,
		ChainTxID:     tx.ChainTxID,
		RetryCount:    tx.RetryCount,
		LastCheckedAt: tx.LastCheckedAt,
	}
	err = s.q.Enqueue(r.Context(), job, queue.Options{Priority: domain.PriorityHigh})
	if errors.Is(err, queue.ErrDuplicateJob) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_queued"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.log.Info("Manual poll triggered", "tx", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleForceConfirm applies an operator-initiated forced confirmation.
func (s *Server) handleForceConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	update := domain.StatusUpdate{
		Status: domain.TxStatusConfirmed,
		Metadata: map[string]any{
			domain.MetaForcedConfirmation: true,
			"reason":                      domain.ReasonForcedConfirmation,
			"operator":                    true,
		},
	}

	tx, changed, err := s.repo.UpdateStatus(r.Context(), id, update)
	if errors.Is(err, storage.ErrTransactionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !changed {
		writeError(w, http.StatusConflict, fmt.Errorf("transaction is already %s", tx.Status))
		return
	}

	s.log.Warn("Operator forced confirmation", "tx", id)
	s.notifier.NotifyTerminal(r.Context(), tx)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListStuck(w http.ResponseWriter, r *http.Request) {
	stuck, err := s.stuck.ListStuck(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stuck == nil {
		stuck = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, stuck)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
