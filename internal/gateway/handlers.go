// internal/gateway/handlers.go
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sauliuspr-reya/reya-workers/internal/chain"
	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/store"
	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
)

// tradeRequest is the POST /trade body.
type tradeRequest struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Amount   string `json:"amount,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
}

// connectedMessage is the first frame of a progress stream.
type connectedMessage struct {
	Event     string       `json:"event"`
	TxID      string       `json:"txId"`
	Status    store.Status `json:"status"`
	Timestamp string       `json:"timestamp"`
	Message   string       `json:"message"`
}

// handleSubmitTrade accepts a trade, persists the record, enqueues the job
// and then delivers the outcome in one of two mutually exclusive modes:
// streaming when the client accepts text/event-stream, otherwise a bounded
// synchronous wait.
func (s *Server) handleSubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderInvalid(w, "Invalid request body")
		return
	}

	if req.To == "" || req.Data == "" {
		s.renderInvalid(w, "Missing required parameters: to and data are required")
		return
	}

	// Malformed amounts fail here, before anything is persisted or queued.
	amountWei, err := chain.EtherToWei(req.Amount)
	if err != nil {
		s.renderInvalid(w, err.Error())
		return
	}

	txID := uuid.New().String()

	// The record must exist before the job: a status poll immediately
	// after submission must never see "not found".
	if err := s.store.CreateTransaction(r.Context(), txID); err != nil {
		s.logger.WithError(err).Error("Failed to create transaction record", "txId", txID)
		s.renderError(w, "Internal server error", errors.HTTPStatus(err))
		return
	}

	job := queue.NewJob(txID, req.To, req.Data, amountWei, req.GasLimit)
	if err := s.producer.Enqueue(r.Context(), job); err != nil {
		s.logger.WithError(err).Error("Failed to enqueue trade job", "txId", txID)
		s.renderError(w, "Internal server error", errors.HTTPStatus(err))
		return
	}

	s.logger.Info("Trade accepted", "txId", txID, "jobId", job.ID)

	if wantsStream(r) {
		s.streamTrade(w, r, txID)
		return
	}

	s.awaitTrade(w, r, txID, job.ID)
}

// streamTrade registers the connection with the relay and holds the request
// open. Everything after the connected acknowledgment is driven by the relay.
func (s *Server) streamTrade(w http.ResponseWriter, r *http.Request, txID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.renderError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := newSSEConn(w, flusher)
	s.relay.Register(txID, conn)

	if err := conn.SendJSON(connectedMessage{
		Event:     "connected",
		TxID:      txID,
		Status:    store.StatusPending,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   "Connected to trade stream. Waiting for worker responses...",
	}); err != nil {
		s.relay.OnDisconnect(txID, conn)
		return
	}

	select {
	case <-conn.Done():
		// Terminal event delivered and grace delay elapsed.
	case <-r.Context().Done():
		// Client went away; drop only the subscription.
		s.relay.OnDisconnect(txID, conn)
	}
}

// awaitTrade blocks for the job result up to the configured bound.
func (s *Server) awaitTrade(w http.ResponseWriter, r *http.Request, txID, jobID string) {
	result, err := s.producer.AwaitResult(r.Context(), jobID, s.config.API.SyncWaitTimeout)
	if err != nil {
		if errors.Is(err, errors.ErrTimeout) {
			// The job may still be running: leave the record alone
			// and tell the caller to poll.
			s.metrics.SyncWaitTimeout.Inc()
			s.renderJSON(w, map[string]interface{}{
				"success": true,
				"txId":    txID,
				"jobId":   jobID,
				"status":  store.StatusPending,
				"message": "Transaction is being processed. Check status at /trade/" + txID,
			}, errors.HTTPStatus(err))
			return
		}

		s.logger.WithError(err).Error("Failed to await job result", "txId", txID)
		s.renderError(w, "Internal server error", errors.HTTPStatus(err))
		return
	}

	if result.Success {
		// Write-through duplicates the worker's terminal write;
		// best-effort by design.
		if err := s.store.UpdateStatus(r.Context(), txID, store.StatusCompleted, result.TxHash); err != nil {
			s.logger.WithError(err).Warn("Write-through update failed", "txId", txID)
		}

		s.renderJSON(w, map[string]interface{}{
			"success": true,
			"txId":    txID,
			"txHash":  result.TxHash,
			"status":  store.StatusCompleted,
			"message": "Transaction completed successfully",
		}, http.StatusOK)
		return
	}

	if err := s.store.UpdateStatus(r.Context(), txID, store.StatusFailed, ""); err != nil {
		s.logger.WithError(err).Warn("Write-through update failed", "txId", txID)
	}

	s.renderJSON(w, map[string]interface{}{
		"success":      false,
		"txId":         txID,
		"status":       store.StatusFailed,
		"error":        result.Error,
		"errorDetails": result.ErrorDetails,
	}, http.StatusBadRequest)
}

// handleGetTrade returns the durable record for a trade id.
func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	tx, err := s.store.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.renderError(w, "Transaction not found", errors.HTTPStatus(err))
			return
		}
		s.logger.WithError(err).Error("Failed to fetch transaction", "txId", txID)
		s.renderError(w, "Internal server error", errors.HTTPStatus(err))
		return
	}

	s.renderJSON(w, map[string]interface{}{
		"success":     true,
		"transaction": tx,
	}, http.StatusOK)
}

// handleMonitor returns queue counts and bounded per-state job samples.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	snap, err := s.producer.Stats(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to collect queue metrics")
		s.renderError(w, "Failed to get queue metrics", errors.HTTPStatus(err))
		return
	}

	s.metrics.QueueDepth.WithLabelValues(string(queue.StateWaiting)).Set(float64(snap.Counts.Waiting))
	s.metrics.QueueDepth.WithLabelValues(string(queue.StateActive)).Set(float64(snap.Counts.Active))
	s.metrics.QueueDepth.WithLabelValues(string(queue.StateCompleted)).Set(float64(snap.Counts.Completed))
	s.metrics.QueueDepth.WithLabelValues(string(queue.StateFailed)).Set(float64(snap.Counts.Failed))

	s.renderJSON(w, map[string]interface{}{
		"success": true,
		"metrics": snap,
	}, http.StatusOK)
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (s *Server) renderJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.renderJSON(w, map[string]interface{}{
		"success": false,
		"error":   message,
	}, status)
}

// renderInvalid reports a client input fault with the taxonomy's status mapping.
func (s *Server) renderInvalid(w http.ResponseWriter, message string) {
	s.renderError(w, message, errors.HTTPStatus(errors.NewInvalidRequest(message)))
}
