package database

import (
	"context"
	"math/rand"
	"time"
)

// writeJob is an enqueued mutation. Any error from run is retried, up to
// maxRetries more attempts; the final error (or nil) is sent on resultCh.
type writeJob struct {
	run      func(ctx context.Context) error
	resultCh chan<- error
}

// writeQueue serializes writes to a single background goroutine (§4.H, §7:
// "writes are enqueued"). Enqueue waits for the job's result, so its caller
// blocks until the write and any retries finish. Failures are retried with
// exponential backoff up to a ceiling and then surfaced to the caller.
type writeQueue struct {
	jobs chan writeJob
	done chan struct{}
}

const (
	backoffMin     = 100 * time.Millisecond
	backoffMax     = 30 * time.Second
	backoffJitter  = 250 * time.Millisecond
	maxRetries     = 6
	writeQueueSize = 256
)

func newWriteQueue() *writeQueue {
	q := &writeQueue{
		jobs: make(chan writeJob, writeQueueSize),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *writeQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		var err error
		n := time.Duration(0)
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(backoffDelay(attempt, n))
			}
			err = job.run(context.Background())
			if err == nil {
				break
			}
			n++
		}
		if job.resultCh != nil {
			job.resultCh <- err
		}
	}
}

func backoffDelay(attempt int, n time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * backoffMin
	if d > backoffMax {
		d = backoffMax
	}
	d += time.Duration(rand.Int63n(int64(backoffJitter)))
	return d
}

// Enqueue submits a write and blocks until it has been attempted (with
// retries) at least once, returning the final error if any.
func (q *writeQueue) Enqueue(run func(ctx context.Context) error) error {
	result := make(chan error, 1)
	q.jobs <- writeJob{run: run, resultCh: result}
	return <-result
}

func (q *writeQueue) Close() {
	close(q.jobs)
	<-q.done
}
