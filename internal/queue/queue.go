// Package queue provides the in-process delayed task queues that back
// dispatching, polling and delivery. Each queue owns a fixed worker pool; a
// "wait" between polling checks is a delayed re-enqueue, not a sleeping
// worker.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work executed by a queue worker.
type Task func(ctx context.Context)

// Queue is a named multi-worker task queue with delayed enqueue support.
type Queue struct {
	name    string
	workers int
	log     *zap.Logger

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

func New(name string, workers int, log *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:    name,
		workers: workers,
		log:     log.Named("queue").With(zap.String("queue", name)),
		tasks:   make(chan Task, 1024),
		ctx:     ctx,
		cancel:  cancel,
		timers:  map[*time.Timer]struct{}{},
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("queue started", zap.Int("workers", q.workers))
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			q.run(task)
		}
	}
}

func (q *Queue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task(q.ctx)
}

// Enqueue schedules a task for immediate execution. Tasks enqueued after Stop
// are dropped.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return
	}
	select {
	case q.tasks <- task:
	case <-q.ctx.Done():
	}
}

// EnqueueAfter schedules a task after the given delay.
func (q *Queue) EnqueueAfter(delay time.Duration, task Task) {
	if delay <= 0 {
		q.Enqueue(task)
		return
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.Enqueue(task)
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
}

// Stop cancels pending timers, stops accepting work and waits for in-flight
// tasks to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.log.Info("queue stopped")
}
