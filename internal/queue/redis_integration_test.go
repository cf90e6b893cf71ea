//go:build integration

package queue_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sauliuspr-reya/reya-workers/internal/queue"
	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
)

// Tests run against a dedicated database so a flush cannot touch real data.
const testDB = 9

func openQueue(t *testing.T, maxAttempts int) *queue.RedisQueue {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: testDB})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	client.Close()

	q, err := queue.NewRedisQueue(addr, "", testDB, maxAttempts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return q
}

func enqueueJob(t *testing.T, q *queue.RedisQueue, txID string) queue.Job {
	t.Helper()
	job := queue.NewJob(txID, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "0xdeadbeef", "", "")
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestDequeueDeliversEachJobOnce(t *testing.T) {
	q := openQueue(t, 1)
	ctx := context.Background()

	const jobs = 20
	enqueued := make(map[string]bool, jobs)
	for i := 0; i < jobs; i++ {
		job := enqueueJob(t, q, fmt.Sprintf("tx-%d", i))
		enqueued[job.ID] = true
	}

	// Several slots drain the queue concurrently; the blocking move into
	// the active list must hand each job to exactly one of them.
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for slot := 0; slot < 4; slot++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(dctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				total := 0
				for _, n := range seen {
					total += n
				}
				mu.Unlock()
				if total >= jobs {
					cancel()
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("expected %d distinct jobs delivered, got %d", jobs, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s delivered %d times", id, n)
		}
		if !enqueued[id] {
			t.Errorf("unknown job id %s delivered", id)
		}
	}
}

func TestAwaitResultConsumedOnce(t *testing.T) {
	q := openQueue(t, 1)
	ctx := context.Background()

	enqueueJob(t, q, "tx-1")
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Complete(ctx, job, queue.Result{Success: true, TxHash: "0xabc"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	result, err := q.AwaitResult(ctx, job.ID, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if !result.Success || result.TxHash != "0xabc" {
		t.Errorf("unexpected result: %+v", result)
	}

	// The result was popped; a second waiter can only time out.
	if _, err := q.AwaitResult(ctx, job.ID, 200*time.Millisecond); !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("expected ErrTimeout on second wait, got %v", err)
	}
}

func TestFailRequeuesUntilAttemptsExhausted(t *testing.T) {
	q := openQueue(t, 2)
	ctx := context.Background()

	enqueueJob(t, q, "tx-1")
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	retried, err := q.Fail(ctx, first, queue.Result{Success: false, Error: "nonce too low"})
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !retried {
		t.Fatal("first failure with attempts left must re-queue")
	}

	// No result is published for a retried attempt.
	if _, err := q.AwaitResult(ctx, first.ID, 200*time.Millisecond); !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("retried attempt must publish no result, got %v", err)
	}

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after re-queue: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-queued job changed id: %s vs %s", second.ID, first.ID)
	}
	if second.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", second.Attempt)
	}

	retried, err = q.Fail(ctx, second, queue.Result{Success: false, Error: "nonce too low"})
	if err != nil {
		t.Fatalf("terminal Fail: %v", err)
	}
	if retried {
		t.Fatal("exhausted attempts must be terminal")
	}

	result, err := q.AwaitResult(ctx, second.ID, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult after terminal failure: %v", err)
	}
	if result.Success || result.Error != "nonce too low" {
		t.Errorf("unexpected terminal result: %+v", result)
	}

	snap, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Counts.Failed != 1 || snap.Counts.Waiting != 0 || snap.Counts.Active != 0 {
		t.Errorf("unexpected counts: %+v", snap.Counts)
	}
}

func TestFinishedListsKeepLastHundred(t *testing.T) {
	q := openQueue(t, 1)
	ctx := context.Background()

	const jobs = 110
	for i := 0; i < jobs; i++ {
		enqueueJob(t, q, fmt.Sprintf("tx-%d", i))
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if err := q.Complete(ctx, job, queue.Result{Success: true, TxHash: "0xabc"}); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}

	snap, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Counts.Completed != 100 {
		t.Errorf("expected completed list trimmed to 100, got %d", snap.Counts.Completed)
	}
	if snap.Counts.Waiting != 0 || snap.Counts.Active != 0 {
		t.Errorf("unexpected residue: %+v", snap.Counts)
	}
}
