package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

// ProcessorQueue is an in-process FIFO with a single drain loop. The loop is
// started by Enqueue when none is running and exits once the queue is empty.
type ProcessorQueue struct {
	handle   Handler
	logger   *slog.Logger
	capacity int
	policy   Policy
	timeout  time.Duration

	// slots bounds waiting messages; nil means unbounded.
	slots chan struct{}

	mu      sync.Mutex
	items   []entity.QueuedMessage
	active  bool
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

type Option func(*ProcessorQueue)

// WithCapacity bounds the number of waiting messages; 0 means unbounded.
func WithCapacity(n int) Option {
	return func(q *ProcessorQueue) {
		if n >= 0 {
			q.capacity = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(q *ProcessorQueue) {
		if p == PolicyReject || p == PolicyBlock {
			q.policy = p
		}
	}
}

// WithProcessTimeout bounds each handler call; 0 disables.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d >= 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(handle Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &ProcessorQueue{
		handle:   handle,
		logger:   logger,
		capacity: 1000,
		policy:   PolicyReject,
		timeout:  3 * time.Minute,
		closing:  make(chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(q)
	}
	if q.capacity > 0 {
		q.slots = make(chan struct{}, q.capacity)
	}
	return q
}

// Enqueue appends msg at the back of the queue and makes sure a drain loop runs.
func (q *ProcessorQueue) Enqueue(ctx context.Context, msg entity.QueuedMessage) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	if err := q.acquire(ctx); err != nil {
		q.logger.Warn("queue.enqueue_rejected", "fingerprint", msg.Fingerprint, "error", err)
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.release()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	depth := len(q.items)
	if !q.active {
		q.active = true
		q.wg.Add(1)
		go q.drain()
	}
	q.logger.Info("queue.enqueued", "fingerprint", msg.Fingerprint, "depth", depth)
	return nil
}

func (q *ProcessorQueue) acquire(ctx context.Context) error {
	if q.slots == nil {
		return nil
	}
	if q.policy == PolicyReject {
		select {
		case q.slots <- struct{}{}:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case q.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closing:
		return ErrQueueClosed
	}
}

func (q *ProcessorQueue) release() {
	if q.slots != nil {
		<-q.slots
	}
}

func (q *ProcessorQueue) drain() {
	defer q.wg.Done()
	q.logger.Debug("queue.drain_started")
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.closed {
			dropped := len(q.items)
			q.active = false
			q.mu.Unlock()
			if dropped > 0 {
				q.logger.Warn("queue.drain_stopped", "dropped", dropped)
			} else {
				q.logger.Debug("queue.drain_idle")
			}
			return
		}
		msg := q.items[0]
		q.items[0] = entity.QueuedMessage{}
		q.items = q.items[1:]
		q.mu.Unlock()
		q.release()

		q.run(msg)
	}
}

func (q *ProcessorQueue) run(msg entity.QueuedMessage) {
	ctx := q.baseCtx
	var cancel context.CancelFunc
	if q.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue.handler_panic",
				"fingerprint", msg.Fingerprint,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	if err := q.handle(ctx, msg); err != nil {
		q.logger.Error("queue.handler_failed", "fingerprint", msg.Fingerprint, "error", err)
	}
}

// Status reports depth (waiting, excluding the in-flight message), whether a
// drain loop is running and the configured capacity.
func (q *ProcessorQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Depth: len(q.items), Active: q.active, Capacity: q.capacity}
}

// Shutdown stops accepting messages and waits for the in-flight message. Messages
// still waiting are dropped; their ledger rows stay PENDING until recovered.
// If ctx ends first the in-flight handler's context is canceled.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
	}
}
