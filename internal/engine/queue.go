package engine

import (
	"sync"

	"github.com/syncline/syncline/internal/event"
)

// loopEventKind distinguishes the scheduling sources feeding the loop.
type loopEventKind int

const (
	// loopFrame is an inbound transport frame to normalize and route.
	loopFrame loopEventKind = iota + 1
	// loopHook is a UI lifecycle hook from the presentation collaborator.
	loopHook
	// loopResolution is a conflict resolution decision.
	loopResolution
	// loopIdleFlush is the idle timer firing.
	loopIdleFlush
	// loopConnectivity is a transport connectivity change.
	loopConnectivity
)

// hookEvent carries one UI lifecycle hook through the loop so that
// context mutation is serialized with frame processing.
type hookEvent struct {
	Kind    HookKind
	Modal   *ModalRef
	Focus   *EntityRef
	FieldID string
}

// resolutionEvent carries a conflict resolution decision through the
// loop.
type resolutionEvent struct {
	ConflictID string
	Outcome    Outcome
	Merged     map[string]any
}

// loopEvent wraps the event kinds for the loop queue.
type loopEvent struct {
	kind       loopEventKind
	frame      *event.Frame
	hook       *hookEvent
	resolution *resolutionEvent
	online     bool
}

// loopQueue is a thread-safe FIFO queue for loop events.
//
// The queue is unbounded so that bursts of inbound frames never block
// the transport's read pump.
//
// Thread-safety is provided for external enqueuing (transport read
// pump, presentation hooks, timers) while the engine's Run loop
// dequeues.
//
// The queue uses a channel for signaling to enable context-aware
// waiting in the Run loop.
type loopQueue struct {
	mu     sync.Mutex
	events []loopEvent
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newLoopQueue creates an empty loop queue.
func newLoopQueue() *loopQueue {
	return &loopQueue{
		events: make([]loopEvent, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *loopQueue) Enqueue(e loopEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (loopEvent{}, false) if queue is empty.
func (q *loopQueue) TryDequeue() (loopEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return loopEvent{}, false
	}

	e := q.events[0]

	// CRITICAL: Nil out the slot so the backing array does not retain
	// frame and hook pointers until reallocation.
	q.events[0] = loopEvent{}

	if len(q.events) == 1 {
		// Last element - reset to empty slice with original capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *loopQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *loopQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *loopQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal)
}
