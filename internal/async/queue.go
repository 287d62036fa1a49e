package async

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

var (
	ErrQueueFull   = errors.New("ingestion queue is full")
	ErrQueueClosed = errors.New("ingestion queue is shut down")
)

// Policy decides what Enqueue does when the queue is at capacity.
type Policy string

const (
	PolicyReject Policy = "reject" // return ErrQueueFull
	PolicyBlock  Policy = "block"  // wait for space or ctx
)

// Handler processes one message. Errors and panics are contained per message.
type Handler func(ctx context.Context, msg entity.QueuedMessage) error

// Status is a point-in-time view of the queue.
type Status struct {
	Depth    int  `json:"depth"`
	Active   bool `json:"active"`
	Capacity int  `json:"capacity"`
}

// Enqueuer is what admission needs from the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg entity.QueuedMessage) error
	Status() Status
}
