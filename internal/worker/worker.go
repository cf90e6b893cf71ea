// Package worker consumes trade jobs and drives each one through the
// transaction lifecycle: simulate, submit, await confirmation. Every code
// path ends in a job result and a terminal response event; the worker never
// lets a fault escape its boundary, because the queue's retry machinery would
// otherwise re-broadcast a transaction that may already be on the wire.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sauliuspr-reya/reya-workers/internal/chain"
	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/internal/respond"
	"github.com/sauliuspr-reya/reya-workers/internal/store"
	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
)

// jobTimeout bounds a single job's lifecycle, including the receipt wait.
const jobTimeout = 5 * time.Minute

// Store is the slice of the transaction store the worker needs.
type Store interface {
	UpdateStatus(ctx context.Context, id string, status store.Status, txHash string) error
}

// Submitter is the signing/broadcast collaborator.
type Submitter interface {
	Simulate(ctx context.Context, req chain.TxRequest) (*chain.Estimate, error)
	Submit(ctx context.Context, req chain.TxRequest) (*chain.Submission, error)
	AwaitReceipt(ctx context.Context, txHash string) (*chain.TxReceipt, error)
}

// Consumer is the queue surface the worker drains.
type Consumer interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job, result queue.Result) error
	Fail(ctx context.Context, job *queue.Job, result queue.Result) (retried bool, err error)
}

// Worker runs a fixed number of concurrent job slots.
type Worker struct {
	consumer  Consumer
	store     Store
	submitter Submitter
	emitter   respond.Emitter

	concurrency int
	logger      *logging.Logger
	metrics     *metrics.Metrics

	wg sync.WaitGroup
}

// New creates a worker with the given concurrency.
func New(consumer Consumer, st Store, submitter Submitter, emitter respond.Emitter,
	concurrency int, logger *logging.Logger, m *metrics.Metrics) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		consumer:    consumer,
		store:       st,
		submitter:   submitter,
		emitter:     emitter,
		concurrency: concurrency,
		logger:      logger,
		metrics:     m,
	}
}

// Run consumes jobs until ctx is cancelled. In-flight jobs run on their own
// bounded context so cancelling consumption drains rather than aborts them.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			for {
				job, err := w.consumer.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.logger.Error("Error dequeuing job", "slot", slot, "error", err)
					continue
				}

				jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				w.process(jobCtx, job)
				cancel()
			}
		}(i)
	}
}

// Wait blocks until all slots have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// process drives one job through the state machine.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	w.metrics.JobsInFlight.Inc()
	defer w.metrics.JobsInFlight.Dec()

	log := w.logger.WithField("txId", job.TxID).WithField("jobId", job.ID)
	log.Info("Processing trade job", "attempt", job.Attempt)

	if err := w.store.UpdateStatus(ctx, job.TxID, store.StatusProcessing, ""); err != nil {
		// The record may be gone or the store briefly unreachable;
		// the transaction itself can still proceed.
		log.WithError(err).Warn("Failed to mark transaction processing")
	}

	req := chain.TxRequest{
		To:       job.To,
		Data:     job.Data,
		Amount:   job.Amount,
		GasLimit: job.GasLimit,
	}

	// Received -> Simulated. The estimate is advisory: a failed simulation
	// is logged and the lifecycle continues without the event.
	if est, err := w.submitter.Simulate(ctx, req); err == nil {
		event := respond.NewEvent(job.TxID, respond.TypeSimulation, store.StatusProcessing)
		event.Simulation = &respond.Simulation{
			EstimatedGas: est.Gas,
		}
		w.emit(ctx, event)
	} else {
		log.WithError(err).Debug("Simulation failed, continuing")
	}

	// Simulated -> Submitted.
	sub, err := w.submitter.Submit(ctx, req)
	if err != nil {
		w.fail(ctx, job, err, "")
		w.observe("failed", start)
		return
	}
	log.Info("Transaction sent", "txHash", sub.TxHash)

	event := respond.NewEvent(job.TxID, respond.TypeSubmission, store.StatusProcessing)
	event.TxHash = sub.TxHash
	w.emit(ctx, event)

	// Submitted -> Confirmed.
	receipt, err := w.submitter.AwaitReceipt(ctx, sub.TxHash)
	if err != nil {
		w.fail(ctx, job, err, sub.Raw)
		w.observe("failed", start)
		return
	}

	if !receipt.Success {
		// Receipt reports execution failure: terminal on-chain outcome,
		// not a queue error.
		w.fail(ctx, job, errors.NewOnChainFailure(sub.TxHash), sub.Raw)
		w.observe("failed", start)
		return
	}

	if err := w.store.UpdateStatus(ctx, job.TxID, store.StatusCompleted, sub.TxHash); err != nil {
		log.WithError(err).Error("Failed to mark transaction completed")
	}

	event = respond.NewEvent(job.TxID, respond.TypeReceipt, store.StatusCompleted)
	event.TxHash = sub.TxHash
	event.Receipt = &respond.Receipt{
		BlockHash:        receipt.BlockHash,
		BlockNumber:      receipt.BlockNumber,
		TransactionIndex: receipt.TransactionIndex,
		GasUsed:          receipt.GasUsed,
		Status:           true,
		Logs:             receipt.Logs,
	}
	w.emit(ctx, event)

	result := queue.Result{Success: true, TxHash: sub.TxHash}
	if err := w.consumer.Complete(ctx, job, result); err != nil {
		log.WithError(err).Error("Failed to record job completion")
	}

	log.Info("Trade job completed", "txHash", sub.TxHash)
	w.observe("completed", start)
}

// fail records a failed attempt. When the queue re-queues the job no terminal
// state is written and no terminal event is emitted; the next attempt owns
// the lifecycle.
func (w *Worker) fail(ctx context.Context, job *queue.Job, cause error, rawTx string) {
	log := w.logger.WithField("txId", job.TxID).WithField("jobId", job.ID)
	log.WithError(cause).Error("Trade job failed")

	details := &queue.ErrorDetails{
		Code:         errors.CodeOf(cause),
		ShortMessage: shortMessage(cause),
		Transaction:  rawTx,
	}
	if code := chain.ErrorCode(errors.Unwrap(cause)); code != "" {
		details.Code = code
	}

	result := queue.Result{
		Success:      false,
		Error:        cause.Error(),
		ErrorDetails: details,
	}

	retried, err := w.consumer.Fail(ctx, job, result)
	if err != nil {
		log.WithError(err).Error("Failed to record job failure")
	}
	if retried {
		log.Warn("Trade job re-queued for retry", "attempt", job.Attempt)
		return
	}

	if err := w.store.UpdateStatus(ctx, job.TxID, store.StatusFailed, ""); err != nil {
		log.WithError(err).Error("Failed to mark transaction failed")
	}

	event := respond.NewEvent(job.TxID, respond.TypeError, store.StatusFailed)
	event.Error = result.Error
	event.ErrorDetails = details
	w.emit(ctx, event)
}

func (w *Worker) emit(ctx context.Context, event respond.Event) {
	if err := w.emitter.Emit(ctx, event); err != nil {
		w.logger.WithError(err).Error("Failed to emit response event",
			"txId", event.TxID, "type", string(event.Type))
		return
	}
	w.metrics.ResponsesSent.WithLabelValues(string(event.Type)).Inc()
}

func (w *Worker) observe(outcome string, start time.Time) {
	w.metrics.JobsProcessed.WithLabelValues(outcome).Inc()
	w.metrics.JobDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// shortMessage keeps the human-facing message free of wrapped transport noise.
func shortMessage(err error) string {
	var domainErr *errors.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}
