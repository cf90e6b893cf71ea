package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/relay"
	"github.com/sauliuspr-reya/reya-workers/internal/store"
	"github.com/sauliuspr-reya/reya-workers/pkg/config"
	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
	"github.com/sauliuspr-reya/reya-workers/pkg/health"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
)

type fakeStore struct {
	mu        sync.Mutex
	created   []string
	updates   []store.Status
	existing  map[string]*store.Transaction
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: make(map[string]*store.Transaction)}
}

func (f *fakeStore) CreateTransaction(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, id)
	f.existing[id] = &store.Transaction{
		ID:        id,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status store.Status, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
	if tx, ok := f.existing[id]; ok {
		tx.Status = status
		if txHash != "" {
			tx.TxHash = txHash
		}
	}
	return nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.existing[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "transaction not found")
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeProducer struct {
	mu       sync.Mutex
	enqueued []queue.Job
	result   *queue.Result
	timeout  bool
	snapshot *queue.Snapshot
}

func (f *fakeProducer) Enqueue(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeProducer) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) (*queue.Result, error) {
	if f.timeout {
		return nil, &errors.Error{
			Domain:   errors.QueueDomain,
			Code:     errors.CodeTransportTimeout,
			Original: errors.ErrTimeout,
		}
	}
	return f.result, nil
}

func (f *fakeProducer) Stats(ctx context.Context) (*queue.Snapshot, error) {
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &queue.Snapshot{Jobs: make(map[queue.State][]queue.JobSummary)}, nil
}

func (f *fakeProducer) enqueuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Port:               "0",
			CORSAllowedOrigins: []string{"*"},
			SyncWaitTimeout:    100 * time.Millisecond,
			StreamCloseGrace:   10 * time.Millisecond,
			ShutdownTimeout:    time.Second,
		},
		Worker: config.WorkerConfig{Concurrency: 1, MaxAttempts: 1},
	}
}

func newTestServer(st store.Store, producer queue.Producer) (*Server, *relay.Relay) {
	logger := logging.Discard()
	rly := relay.New(10*time.Millisecond, logger)
	srv := NewServer(testConfig(), st, producer, rly, logger,
		metrics.New(metrics.DefaultConfig()), health.NewRegistry(logger))
	return srv, rly
}

func postTrade(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/trade", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestSubmitTradeMissingParams(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(), `{"to":"0xabc"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Error("expected success=false")
	}
	if !strings.Contains(body["error"].(string), "to and data are required") {
		t.Errorf("unexpected error message %q", body["error"])
	}
	if st.createdCount() != 0 || producer.enqueuedCount() != 0 {
		t.Error("rejected request must not touch store or queue")
	}
}

func TestSubmitTradeMalformedAmount(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(),
		`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1","amount":"abc"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if st.createdCount() != 0 || producer.enqueuedCount() != 0 {
		t.Error("malformed amount must be rejected before persistence")
	}
}

func TestSubmitTradeStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.createErr = errors.NewStorageError("CreateTransaction", fmt.Errorf("connection refused"))
	producer := &fakeProducer{}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(),
		`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1"}`, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false || body["error"] != "Internal server error" {
		t.Errorf("unexpected body: %v", body)
	}
	if producer.enqueuedCount() != 0 {
		t.Error("store failure must abort before enqueue")
	}
}

func TestSubmitTradeSyncSuccess(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{result: &queue.Result{Success: true, TxHash: "0xabc"}}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(),
		`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1","amount":"0.5"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["txHash"] != "0xabc" || body["status"] != "COMPLETED" {
		t.Errorf("unexpected body: %v", body)
	}

	if st.createdCount() != 1 {
		t.Errorf("expected 1 record, got %d", st.createdCount())
	}
	if producer.enqueuedCount() != 1 {
		t.Fatalf("expected 1 enqueue, got %d", producer.enqueuedCount())
	}
	if producer.enqueued[0].Amount != "500000000000000000" {
		t.Errorf("amount not converted to wei: %q", producer.enqueued[0].Amount)
	}
}

func TestSubmitTradeSyncFailure(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{result: &queue.Result{
		Success: false,
		Error:   "transaction reverted on chain",
		ErrorDetails: &queue.ErrorDetails{
			Code:         errors.CodeOnChainFailure,
			ShortMessage: "transaction reverted on chain",
		},
	}}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(),
		`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false || body["status"] != "FAILED" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["errorDetails"] == nil {
		t.Error("expected errorDetails in failure response")
	}
}

func TestSubmitTradeSyncTimeout(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{timeout: true}
	srv, _ := newTestServer(st, producer)

	w := postTrade(t, srv.Router(),
		`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1"}`, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["status"] != "PENDING" {
		t.Errorf("unexpected body: %v", body)
	}
	if !strings.Contains(body["message"].(string), "/trade/") {
		t.Errorf("expected poll hint in message, got %q", body["message"])
	}

	// The record keeps its PENDING status; only the worker advances it.
	txID := body["txId"].(string)
	tx, err := st.GetTransaction(context.Background(), txID)
	if err != nil {
		t.Fatalf("record missing after timeout: %v", err)
	}
	if tx.Status != store.StatusPending {
		t.Errorf("timeout must not advance status, got %s", tx.Status)
	}
}

func TestGetTradeNotFound(t *testing.T) {
	srv, _ := newTestServer(newFakeStore(), &fakeProducer{})

	req := httptest.NewRequest(http.MethodGet, "/trade/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "Transaction not found" {
		t.Errorf("unexpected error message %q", body["error"])
	}
}

func TestGetTradeFound(t *testing.T) {
	st := newFakeStore()
	st.CreateTransaction(context.Background(), "tx-1")
	st.UpdateStatus(context.Background(), "tx-1", store.StatusCompleted, "0xabc")

	srv, _ := newTestServer(st, &fakeProducer{})

	req := httptest.NewRequest(http.MethodGet, "/trade/tx-1", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	tx := body["transaction"].(map[string]interface{})
	if tx["txId"] != "tx-1" || tx["status"] != "COMPLETED" || tx["txHash"] != "0xabc" {
		t.Errorf("unexpected transaction payload: %v", tx)
	}
}

func TestMonitor(t *testing.T) {
	producer := &fakeProducer{snapshot: &queue.Snapshot{
		Counts: queue.Counts{Waiting: 2, Completed: 5},
		Jobs: map[queue.State][]queue.JobSummary{
			queue.StateWaiting: {{ID: "job-1"}},
		},
	}}
	srv, _ := newTestServer(newFakeStore(), producer)

	req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	m := body["metrics"].(map[string]interface{})
	counts := m["counts"].(map[string]interface{})
	if counts["waiting"].(float64) != 2 || counts["completed"].(float64) != 5 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestSubmitTradeStream(t *testing.T) {
	st := newFakeStore()
	producer := &fakeProducer{}
	srv, rly := newTestServer(st, producer)

	server := httptest.NewServer(srv.Router())
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/trade",
		bytes.NewBufferString(`{"to":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","data":"0x1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", ct)
	}

	// First frame is the connected acknowledgment.
	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	frame := string(buf[:n])
	if !strings.HasPrefix(frame, "data: ") {
		t.Fatalf("expected SSE framing, got %q", frame)
	}
	if !strings.Contains(frame, `"event":"connected"`) {
		t.Errorf("expected connected acknowledgment, got %q", frame)
	}

	// The stream registers under the trade id from the acknowledgment.
	deadline := time.After(time.Second)
	for rly.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("stream never registered with relay")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
