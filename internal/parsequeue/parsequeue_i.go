package parsequeue

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"scmap/internal/metrics"
	"scmap/internal/worker"
)

type QueueI struct {
	sem     *semaphore.Weighted
	running atomic.Int64
	waiting atomic.Int64
}

var _ Queue = (*QueueI)(nil)

// NewQueueI returns a queue admitting at most n concurrent jobs. There is no
// default: n must be chosen by the deployment.
func NewQueueI(n int) (*QueueI, error) {
	if n < 1 {
		return nil, fmt.Errorf("parse queue: concurrency must be >= 1, got %d", n)
	}
	return &QueueI{sem: semaphore.NewWeighted(int64(n))}, nil
}

func (q *QueueI) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	q.waiting.Add(1)
	metrics.QueueWaiting.Inc()
	// Queued jobs are not cancellable; Acquire can only fail on a done context.
	_ = q.sem.Acquire(context.WithoutCancel(ctx), 1)
	q.waiting.Add(-1)
	metrics.QueueWaiting.Dec()

	q.running.Add(1)
	metrics.QueueRunning.Inc()
	defer func() {
		q.running.Add(-1)
		metrics.QueueRunning.Dec()
		q.sem.Release(1)
	}()
	return fn(ctx)
}

func (q *QueueI) Running() int64 { return q.running.Load() }

func (q *QueueI) Waiting() int64 { return q.waiting.Load() }

// QueuedWorker admits every Parse call through a queue.
type QueuedWorker struct {
	queue  Queue
	worker worker.Worker
}

var _ worker.Worker = (*QueuedWorker)(nil)

func NewQueuedWorker(q Queue, w worker.Worker) *QueuedWorker {
	return &QueuedWorker{queue: q, worker: w}
}

func (qw *QueuedWorker) Parse(ctx context.Context, req worker.Request) (*worker.Result, error) {
	var res *worker.Result
	err := qw.queue.Run(ctx, func(ctx context.Context) error {
		var err error
		res, err = qw.worker.Parse(ctx, req)
		return err
	})
	return res, err
}
