package engine

import (
	"sync/atomic"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

// Queue is a bounded, non-blocking event queue feeding the dispatch
// worker. Producers on any goroutine may publish; only the worker
// consumes.
type Queue struct {
	ch     chan event.Event
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan event.Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e event.Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrEventQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return exception.ErrEventQueueFull
	}
}

// Close stops the queue from accepting new events. Events already
// queued remain readable until drained.
func (q *Queue) Close() {
	atomic.StoreUint32(&q.closed, 1)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}
