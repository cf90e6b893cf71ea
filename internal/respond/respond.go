// Package respond carries multi-stage progress events from the worker back to
// the gateway process over a broker, decoupling the two lifetimes. Events for
// a single trade id are emitted and delivered in order.
package respond

import (
	"context"
	"time"

	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/store"
)

// EventType identifies the lifecycle stage an event reports.
type EventType string

const (
	// TypeSimulation carries a pre-submission estimate. Advisory only.
	TypeSimulation EventType = "simulation"
	// TypeSubmission reports the broadcast hash.
	TypeSubmission EventType = "submission"
	// TypeReceipt is the successful terminal event.
	TypeReceipt EventType = "receipt"
	// TypeError is the failed terminal event.
	TypeError EventType = "error"
)

// Terminal reports whether an event type ends the stream for its trade id.
func (t EventType) Terminal() bool {
	return t == TypeReceipt || t == TypeError
}

// Simulation is the advisory estimate payload.
type Simulation struct {
	EstimatedGas   uint64   `json:"estimatedGas"`
	ExpectedOutput string   `json:"expectedOutput,omitempty"`
	PriceImpact    string   `json:"priceImpact,omitempty"`
	Route          []string `json:"route,omitempty"`
}

// Receipt is the confirmed-transaction payload.
type Receipt struct {
	BlockHash        string   `json:"blockHash"`
	BlockNumber      uint64   `json:"blockNumber"`
	TransactionIndex uint     `json:"transactionIndex"`
	GasUsed          uint64   `json:"gasUsed"`
	Status           bool     `json:"status"`
	Logs             []string `json:"logs"`
}

// Event is a progress notification emitted by the worker mid-lifecycle,
// independent of the job result.
type Event struct {
	TxID      string        `json:"txId"`
	Type      EventType     `json:"type"`
	Status    store.Status  `json:"status"`
	Timestamp string        `json:"timestamp"`
	TxHash    string        `json:"txHash,omitempty"`

	Simulation   *Simulation         `json:"simulation,omitempty"`
	Receipt      *Receipt            `json:"receipt,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorDetails *queue.ErrorDetails `json:"errorDetails,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(txID string, eventType EventType, status store.Status) Event {
	return Event{
		TxID:      txID,
		Type:      eventType,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Emitter is the worker-side surface of the response channel.
type Emitter interface {
	// Emit publishes an event. Events sharing a trade id keep their
	// emission order on delivery.
	Emit(ctx context.Context, event Event) error
}

// Handler consumes delivered events on the gateway side.
type Handler func(event Event)
