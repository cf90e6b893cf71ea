// Package queue implements the durable trade job queue and the per-job result
// handoff between the worker and synchronous gateway waiters.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work representing one transaction request.
type Job struct {
	ID       string `json:"jobId"`
	TxID     string `json:"txId"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Amount   string `json:"amount,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	// Attempt counts deliveries to a worker slot, starting at 1.
	Attempt int `json:"attempt"`
	// EnqueuedAt is the unix millisecond timestamp of the first enqueue.
	EnqueuedAt int64 `json:"enqueuedAt"`
}

// NewJob builds a job with a fresh id and enqueue timestamp.
func NewJob(txID, to, data, amount, gasLimit string) Job {
	return Job{
		ID:         uuid.New().String(),
		TxID:       txID,
		To:         to,
		Data:       data,
		Amount:     amount,
		GasLimit:   gasLimit,
		Attempt:    1,
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

// ErrorDetails carries structured detail surfaced by the signing/broadcast
// collaborator alongside a failure.
type ErrorDetails struct {
	Code         string `json:"code,omitempty"`
	ShortMessage string `json:"shortMessage,omitempty"`
	// Transaction echoes the raw transaction the collaborator rejected.
	Transaction string `json:"transaction,omitempty"`
}

// Result is the terminal outcome produced exactly once per job lifecycle.
type Result struct {
	Success      bool          `json:"success"`
	TxHash       string        `json:"txHash,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorDetails *ErrorDetails `json:"errorDetails,omitempty"`
}

// State mirrors the queue states exposed by the monitor endpoint.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobSummary is one entry of a monitor sample.
type JobSummary struct {
	ID           string  `json:"id"`
	Timestamp    int64   `json:"timestamp"`
	Data         *Job    `json:"data,omitempty"`
	ReturnValue  *Result `json:"returnvalue,omitempty"`
	FailedReason string  `json:"failedReason,omitempty"`
}

// Counts holds the number of jobs per queue state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a read-only view of the queue for the monitor endpoint. The
// per-state samples are bounded to the most recent 100 jobs.
type Snapshot struct {
	Counts Counts                 `json:"counts"`
	Jobs   map[State][]JobSummary `json:"jobs"`
}

// Producer is the queue surface the gateway needs.
type Producer interface {
	// Enqueue adds exactly one job to the waiting queue.
	Enqueue(ctx context.Context, job Job) error

	// AwaitResult blocks until the job's terminal result is available or
	// the timeout elapses, in which case it returns a wrapped
	// errors.ErrTimeout. Each result is consumed at most once.
	AwaitResult(ctx context.Context, jobID string, timeout time.Duration) (*Result, error)

	// Stats returns the current queue snapshot.
	Stats(ctx context.Context) (*Snapshot, error)
}

// Consumer is the queue surface the worker needs.
type Consumer interface {
	// Dequeue blocks until a job is available, delivering each job to
	// exactly one caller. It returns ctx.Err() once ctx is done.
	Dequeue(ctx context.Context) (*Job, error)

	// Complete records a successful terminal outcome and publishes the
	// result to any synchronous waiter.
	Complete(ctx context.Context, job *Job, result Result) error

	// Fail records a failed attempt. When the job has attempts left it is
	// re-queued, no result is published and retried is true; otherwise the
	// failure is terminal and the result is published.
	Fail(ctx context.Context, job *Job, result Result) (retried bool, err error)
}
