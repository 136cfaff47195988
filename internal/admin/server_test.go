package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/reconciler/internal/core/domain"
	"github.com/vietddude/reconciler/internal/engine/queue"
	"github.com/vietddude/reconciler/internal/infra/chain"
	"github.com/vietddude/reconciler/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type mockChain struct {
	tip uint64
	err error
}

func (c *mockChain) GetTransaction(ctx context.Context, id string) (*chain.TxInfo, error) {
	return nil, chain.ErrTxNotFound
}

func (c *mockChain) GetTipHeight(ctx context.Context) (uint64, error) {
	return c.tip, c.err
}

type mockNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *mockNotifier) NotifyTerminal(ctx context.Context, tx *domain.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

type mockStuck struct {
	txs []*domain.Transaction
}

func (s *mockStuck) ListStuck(ctx context.Context) ([]*domain.Transaction, error) {
	return s.txs, nil
}

type fixture struct {
	server   *Server
	repo     *memory.TxRepo
	q        *queue.MemoryQueue
	notifier *mockNotifier
	stuck    *mockStuck
}

func newFixture() *fixture {
	repo := memory.NewTxRepo(memory.NewMemoryStorage())
	q := queue.NewMemoryQueue()
	notifier := &mockNotifier{}
	stuck := &mockStuck{}
	srv := NewServer(0, repo, q, &mockChain{tip: 100}, notifier, stuck)
	return &fixture{server: srv, repo: repo, q: q, notifier: notifier, stuck: stuck}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.server.server.Handler.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Health and stats
// =============================================================================

func TestHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", body["status"])
	}
}

func TestQueueStats(t *testing.T) {
	f := newFixture()
	f.q.Enqueue(context.Background(), &domain.PollingJob{TransactionID: "tx-1"}, queue.Options{})

	rec := f.do(t, http.MethodGet, "/queue/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats queue.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.Waiting != 1 {
		t.Errorf("expected 1 waiting, got %+v", stats)
	}
}

// =============================================================================
// Queue controls
// =============================================================================

func TestQueuePauseResume(t *testing.T) {
	f := newFixture()

	if rec := f.do(t, http.MethodPost, "/queue/pause"); rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	stats, _ := f.q.Stats(context.Background())
	if !stats.Paused {
		t.Fatal("queue not paused")
	}

	if rec := f.do(t, http.MethodPost, "/queue/resume"); rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	stats, _ = f.q.Stats(context.Background())
	if stats.Paused {
		t.Fatal("queue still paused")
	}
}

func TestQueueClear(t *testing.T) {
	f := newFixture()
	f.q.Enqueue(context.Background(), &domain.PollingJob{TransactionID: "tx-1"}, queue.Options{})

	if rec := f.do(t, http.MethodPost, "/queue/clear"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats, _ := f.q.Stats(context.Background())
	if stats.Waiting != 0 {
		t.Errorf("queue not cleared: %+v", stats)
	}
}

// =============================================================================
// Manual interventions
// =============================================================================

func TestTriggerPoll(t *testing.T) {
	f := newFixture()
	f.repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusConfirming, ChainTxID: "0xa"})

	rec := f.do(t, http.MethodPost, "/transactions/tx-1/poll")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if ok, _ := f.q.Contains(context.Background(), "tx-1"); !ok {
		t.Fatal("job not enqueued")
	}

	// A second trigger reports the existing job instead of erroring.
	rec = f.do(t, http.MethodPost, "/transactions/tx-1/poll")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for already-queued, got %d", rec.Code)
	}
}

func TestTriggerPoll_NotFound(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/transactions/missing/poll")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTriggerPoll_TerminalConflict(t *testing.T) {
	f := newFixture()
	f.repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusConfirmed})

	rec := f.do(t, http.MethodPost, "/transactions/tx-1/poll")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestForceConfirm(t *testing.T) {
	f := newFixture()
	f.repo.Seed(&domain.Transaction{ID: "tx-1", Status: domain.TxStatusConfirming, ChainTxID: "0xa"})

	rec := f.do(t, http.MethodPost, "/transactions/tx-1/force-confirm")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	tx, _ := f.repo.GetByID(context.Background(), "tx-1")
	if tx.Status != domain.TxStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", tx.Status)
	}
	if forced, ok := tx.Metadata[domain.MetaForcedConfirmation].(bool); !ok || !forced {
		t.Error("forced confirmation marker missing")
	}
	if f.notifier.calls != 1 {
		t.Errorf("expected one notification, got %d", f.notifier.calls)
	}

	// Already terminal: the second attempt conflicts and stays silent.
	rec = f.do(t, http.MethodPost, "/transactions/tx-1/force-confirm")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if f.notifier.calls != 1 {
		t.Errorf("terminal transaction re-notified: %d calls", f.notifier.calls)
	}
}

func TestListStuck(t *testing.T) {
	f := newFixture()
	past := time.Now().Add(-3 * time.Hour)
	f.stuck.txs = []*domain.Transaction{
		{ID: "tx-1", Status: domain.TxStatusConfirming, ChainTxID: "0xa", UpdatedAt: past},
	}

	rec := f.do(t, http.MethodGet, "/transactions/stuck")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var txs []*domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "tx-1" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestListStuck_EmptyIsArray(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/transactions/stuck")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}
