package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

func msg(i int) entity.QueuedMessage {
	return entity.QueuedMessage{Fingerprint: fmt.Sprintf("fp-%d", i)}
}

func waitIdle(t *testing.T, q *ProcessorQueue) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := q.Status()
		return !s.Active && s.Depth == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueueFIFO(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Fingerprint)
		return nil
	}, nil, WithCapacity(0))

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue(context.Background(), msg(i)))
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, fp := range seen {
		require.Equal(t, fmt.Sprintf("fp-%d", i), fp)
	}
}

func TestQueueSingleDrainLoop(t *testing.T) {
	var running, maxRunning atomic.Int32
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		n := running.Add(1)
		for {
			old := maxRunning.Load()
			if n <= old || maxRunning.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, q.Enqueue(context.Background(), msg(i)))
		}(i)
	}
	wg.Wait()
	waitIdle(t, q)
	require.Equal(t, int32(1), maxRunning.Load())
}

func TestQueueContainsErrorsAndPanics(t *testing.T) {
	var handled atomic.Int32
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		handled.Add(1)
		switch m.Fingerprint {
		case "fp-0":
			panic("boom")
		case "fp-1":
			return errors.New("handler error")
		}
		return nil
	}, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), msg(i)))
	}
	waitIdle(t, q)
	require.Equal(t, int32(3), handled.Load())
}

func TestQueueRejectWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, nil, WithCapacity(2), WithPolicy(PolicyReject))

	require.NoError(t, q.Enqueue(context.Background(), msg(0)))
	<-started // fp-0 is in flight and no longer counts toward capacity

	require.NoError(t, q.Enqueue(context.Background(), msg(1)))
	require.NoError(t, q.Enqueue(context.Background(), msg(2)))
	require.ErrorIs(t, q.Enqueue(context.Background(), msg(3)), ErrQueueFull)

	s := q.Status()
	require.Equal(t, 2, s.Depth)
	require.True(t, s.Active)
	require.Equal(t, 2, s.Capacity)

	close(release)
	waitIdle(t, q)
	require.NoError(t, q.Enqueue(context.Background(), msg(4)))
	waitIdle(t, q)
}

func TestQueueBlockPolicy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, nil, WithCapacity(1), WithPolicy(PolicyBlock))

	require.NoError(t, q.Enqueue(context.Background(), msg(0)))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), msg(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, msg(2)), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), msg(3)) }()
	close(release)
	require.NoError(t, <-done)
	waitIdle(t, q)
}

func TestQueueShutdown(t *testing.T) {
	var handled atomic.Int32
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		handled.Add(1)
		return nil
	}, nil)
	require.NoError(t, q.Enqueue(context.Background(), msg(0)))
	waitIdle(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)
	require.ErrorIs(t, q.Enqueue(context.Background(), msg(1)), ErrQueueClosed)
	require.Equal(t, int32(1), handled.Load())

	// second shutdown is a no-op
	q.Shutdown(ctx)
}

func TestQueueShutdownCancelsInFlight(t *testing.T) {
	canceled := make(chan struct{})
	started := make(chan struct{})
	q := NewProcessorQueue(func(ctx context.Context, m entity.QueuedMessage) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}, nil, WithProcessTimeout(0))

	require.NoError(t, q.Enqueue(context.Background(), msg(0)))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight handler was not canceled")
	}
}
