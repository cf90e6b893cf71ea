// Package store defines the durable transaction record interface consumed by
// the gateway and the worker. Implementations live in subpackages.
package store

import (
	"context"
	"time"
)

// Status is the lifecycle state of a trade record.
type Status string

const (
	// StatusPending means the record exists but no worker has picked it up.
	StatusPending Status = "PENDING"
	// StatusProcessing means a worker slot is driving the transaction.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means the transaction was confirmed on chain.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means the transaction failed terminally.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is the durable status row tracked per trade id.
type Transaction struct {
	ID        string    `json:"txId"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the durable record of trade submissions. The row for a given id is
// created once by the gateway before the job is enqueued and then updated by
// the worker as the transaction advances; terminal statuses are never
// regressed by an update.
type Store interface {
	// CreateTransaction inserts a new record with status PENDING.
	CreateTransaction(ctx context.Context, id string) error

	// UpdateStatus transitions a record to the given status, optionally
	// recording the broadcast hash. Updates against a record already in a
	// terminal state only succeed when they repeat that state.
	UpdateStatus(ctx context.Context, id string, status Status, txHash string) error

	// GetTransaction fetches a record by id. Returns errors.ErrNotFound
	// (wrapped) when no record exists.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// Ping verifies connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
