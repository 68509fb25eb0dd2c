package engine

import (
	"sync"

	"github.com/roach88/satisfy/internal/ir"
)

// EventType distinguishes between delivery events.
type EventType int

const (
	// EventTypeRegistered records that a rule was installed.
	EventTypeRegistered EventType = iota + 1
	// EventTypeDisposed records that a rule's handler tree was torn down.
	EventTypeDisposed
	// EventTypeSatisfied carries a satisfaction for the host.
	EventTypeSatisfied
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventTypeRegistered:
		return "registered"
	case EventTypeDisposed:
		return "disposed"
	case EventTypeSatisfied:
		return "satisfied"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the delivery loop.
type Event struct {
	Type         EventType
	Registration *ir.Registration
	Disposal     *ir.Disposal
	Satisfaction *ir.Satisfaction
}

// eventQueue is a thread-safe FIFO queue between engine turns (producers)
// and the Run loop (single consumer).
//
// The queue is unbounded so a turn never blocks on a slow host listener.
// A buffered signal channel of size 1 coalesces wakeups and lets Run wait
// with select alongside ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Clear the slot so the backing array does not pin delivered rules.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drained reports whether the queue is closed and empty, meaning no event
// will ever be returned again.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close stops further enqueues and wakes any waiter. Already queued events
// remain available to TryDequeue.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
