// internal/queue/redis_queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
)

const (
	// List of job ids waiting to be picked up
	waitingList = "trade:wait"

	// List of job ids currently held by a worker slot
	activeList = "trade:active"

	// Capped lists of recently finished job ids
	completedList = "trade:completed"
	failedList    = "trade:failed"

	// Hash per job holding payload, state and outcome
	jobKeyPrefix = "trade:job:"

	// Per-job result list consumed by the synchronous waiter
	resultKeyPrefix = "trade:result:"

	// Keep only the last N finished jobs around for inspection
	keepFinished = 100

	// Results and finished job hashes expire on their own so an
	// abandoned synchronous waiter does not leak keys
	resultTTL = 5 * time.Minute

	// How long a blocking pop waits before re-checking ctx
	popInterval = time.Second
)

// RedisQueue is a Redis-backed trade job queue. Job ids travel through Redis
// lists while the payload and bookkeeping live in a hash per job, so the
// monitor endpoint can sample any state cheaply.
type RedisQueue struct {
	client *redis.Client

	// maxAttempts is the number of deliveries before a failure is
	// terminal. 1 disables automatic retries.
	maxAttempts int
}

// NewRedisQueue connects to Redis and returns a queue handle.
func NewRedisQueue(addr, password string, db, maxAttempts int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &RedisQueue{client: client, maxAttempts: maxAttempts}, nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping verifies connectivity to Redis.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue adds exactly one job to the waiting queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.NewQueueError("Enqueue", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKeyPrefix+job.ID, map[string]interface{}{
		"data":      payload,
		"state":     string(StateWaiting),
		"timestamp": job.EnqueuedAt,
	})
	pipe.LPush(ctx, waitingList, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueError("Enqueue", err)
	}

	return nil
}

// Dequeue blocks until a job is available. BRPOPLPUSH moves the id from the
// waiting list into the active list atomically, so each job reaches exactly
// one worker slot.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := q.client.BRPopLPush(ctx, waitingList, activeList, popInterval).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewQueueError("Dequeue", err)
		}

		data, err := q.client.HGet(ctx, jobKeyPrefix+id, "data").Result()
		if err != nil {
			// The hash is written before the id is pushed, so a
			// missing hash means the job was already cleaned up.
			q.client.LRem(ctx, activeList, 1, id)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.client.LRem(ctx, activeList, 1, id)
			return nil, errors.NewQueueError("Dequeue", err)
		}

		q.client.HSet(ctx, jobKeyPrefix+id, map[string]interface{}{
			"state":       string(StateActive),
			"processedOn": time.Now().UnixMilli(),
		})

		return &job, nil
	}
}

// Complete records a successful terminal outcome.
func (q *RedisQueue) Complete(ctx context.Context, job *Job, result Result) error {
	return q.finish(ctx, job, result, StateCompleted, "")
}

// Fail records a failed attempt. With attempts remaining the job goes back to
// the waiting list and no result is published; the synchronous waiter only
// ever observes the terminal outcome.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, result Result) (bool, error) {
	if job.Attempt < q.maxAttempts {
		job.Attempt++
		payload, err := json.Marshal(job)
		if err != nil {
			return false, errors.NewQueueError("Fail", err)
		}

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, activeList, 1, job.ID)
		pipe.HSet(ctx, jobKeyPrefix+job.ID, map[string]interface{}{
			"data":  payload,
			"state": string(StateWaiting),
		})
		pipe.LPush(ctx, waitingList, job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, errors.NewQueueError("Fail", err)
		}
		return true, nil
	}

	return false, q.finish(ctx, job, result, StateFailed, result.Error)
}

// finish moves a job out of the active list, records the outcome and hands
// the result to any synchronous waiter.
func (q *RedisQueue) finish(ctx context.Context, job *Job, result Result, state State, failedReason string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.NewQueueError("finish", err)
	}

	doneList := completedList
	if state == StateFailed {
		doneList = failedList
	}

	fields := map[string]interface{}{
		"state":      string(state),
		"finishedOn": time.Now().UnixMilli(),
	}
	if state == StateCompleted {
		fields["returnvalue"] = payload
	} else {
		fields["returnvalue"] = payload
		fields["failedReason"] = failedReason
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, activeList, 1, job.ID)
	pipe.HSet(ctx, jobKeyPrefix+job.ID, fields)
	pipe.Expire(ctx, jobKeyPrefix+job.ID, resultTTL)
	pipe.LPush(ctx, doneList, job.ID)
	pipe.LTrim(ctx, doneList, 0, keepFinished-1)
	pipe.RPush(ctx, resultKeyPrefix+job.ID, payload)
	pipe.Expire(ctx, resultKeyPrefix+job.ID, resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueError("finish", err)
	}

	return nil
}

// AwaitResult blocks until the job's terminal result arrives or the timeout
// elapses. A timeout is reported as a wrapped errors.ErrTimeout so callers
// can distinguish it from transport failures.
func (q *RedisQueue) AwaitResult(ctx context.Context, jobID string, timeout time.Duration) (*Result, error) {
	vals, err := q.client.BRPop(ctx, timeout, resultKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, &errors.Error{
			Domain:    errors.QueueDomain,
			Code:      errors.CodeTransportTimeout,
			Operation: "AwaitResult",
			Original:  errors.ErrTimeout,
		}
	}
	if err != nil {
		return nil, errors.NewQueueError("AwaitResult", err)
	}

	// vals[0] is the key, vals[1] the payload
	var result Result
	if err := json.Unmarshal([]byte(vals[1]), &result); err != nil {
		return nil, errors.NewQueueError("AwaitResult", err)
	}

	return &result, nil
}

// Stats returns queue counts plus a bounded sample of jobs per state.
func (q *RedisQueue) Stats(ctx context.Context) (*Snapshot, error) {
	lists := map[State]string{
		StateWaiting:   waitingList,
		StateActive:    activeList,
		StateCompleted: completedList,
		StateFailed:    failedList,
	}

	snap := &Snapshot{Jobs: make(map[State][]JobSummary)}

	for state, list := range lists {
		count, err := q.client.LLen(ctx, list).Result()
		if err != nil {
			return nil, errors.NewQueueError("Stats", err)
		}
		switch state {
		case StateWaiting:
			snap.Counts.Waiting = count
		case StateActive:
			snap.Counts.Active = count
		case StateCompleted:
			snap.Counts.Completed = count
		case StateFailed:
			snap.Counts.Failed = count
		}

		ids, err := q.client.LRange(ctx, list, 0, keepFinished-1).Result()
		if err != nil {
			return nil, errors.NewQueueError("Stats", err)
		}

		summaries := make([]JobSummary, 0, len(ids))
		for _, id := range ids {
			fields, err := q.client.HGetAll(ctx, jobKeyPrefix+id).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			summaries = append(summaries, summarize(id, state, fields))
		}
		snap.Jobs[state] = summaries
	}

	return snap, nil
}

func summarize(id string, state State, fields map[string]string) JobSummary {
	s := JobSummary{ID: id}

	if ts := fields["timestamp"]; ts != "" {
		fmt.Sscanf(ts, "%d", &s.Timestamp)
	}

	if data := fields["data"]; data != "" {
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err == nil {
			s.Data = &job
		}
	}

	if state == StateCompleted || state == StateFailed {
		if rv := fields["returnvalue"]; rv != "" {
			var result Result
			if err := json.Unmarshal([]byte(rv), &result); err == nil {
				s.ReturnValue = &result
			}
		}
	}
	if state == StateFailed {
		s.FailedReason = fields["failedReason"]
	}

	return s
}
