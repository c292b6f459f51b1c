package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnqueue_RunsTask(t *testing.T) {
	q := New("test", 2, zap.NewNop())
	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	q.Enqueue(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not executed")
	}
}

func TestEnqueueAfter_DelaysExecution(t *testing.T) {
	q := New("test", 1, zap.NewNop())
	q.Start()
	defer q.Stop()

	start := time.Now()
	done := make(chan struct{})
	q.EnqueueAfter(50*time.Millisecond, func(ctx context.Context) { close(done) })

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task was not executed")
	}
}

func TestEnqueueAfter_ZeroDelayRunsImmediately(t *testing.T) {
	q := New("test", 1, zap.NewNop())
	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	q.EnqueueAfter(0, func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("zero-delay task was not executed")
	}
}

func TestStop_DropsPendingTimersAndNewWork(t *testing.T) {
	q := New("test", 1, zap.NewNop())
	q.Start()

	var ran atomic.Int32
	q.EnqueueAfter(time.Hour, func(ctx context.Context) { ran.Add(1) })
	q.Stop()
	q.Enqueue(func(ctx context.Context) { ran.Add(1) })

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ran.Load())
}

func TestRun_RecoversFromPanic(t *testing.T) {
	q := New("test", 1, zap.NewNop())
	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	q.Enqueue(func(ctx context.Context) { panic("boom") })
	q.Enqueue(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestQueue_SingleWorkerPreservesOrder(t *testing.T) {
	q := New("test", 1, zap.NewNop())
	q.Start()
	defer q.Stop()

	results := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		q.Enqueue(func(ctx context.Context) { results <- i })
	}

	for want := 1; want <= 3; want++ {
		select {
		case got := <-results:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("tasks did not complete")
		}
	}
}
