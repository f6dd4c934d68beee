package engine

import (
	"sort"
	"time"

	"github.com/syncline/syncline/internal/event"
)

// Reason records why an update was deferred.
type Reason string

const (
	// ReasonUserActive defers an update until the user goes idle.
	ReasonUserActive Reason = "user_active"
	// ReasonModalOpen defers an update until the open modal closes (or,
	// for events behind a pending conflict, until the conflict resolves).
	ReasonModalOpen Reason = "modal_open"
)

// DeferredUpdate is one buffered update awaiting a flush. It is created
// by strategy execution and destroyed on flush - flushed events are
// re-resolved against the then-current context, never blindly replayed.
type DeferredUpdate struct {
	Event    event.CanonicalEvent
	Reason   Reason
	QueuedAt time.Time
}

// addResult is the outcome of queueing an update.
type addResult int

const (
	// addQueued means no entry existed for the key.
	addQueued addResult = iota
	// addSuperseded means a newer event replaced an older queued entry.
	addSuperseded
	// addStale means the event was older than the queued entry and was
	// silently dropped.
	addStale
)

// deferredQueue buffers updates keyed by entity. At most one update is
// held per key: on insert, supersession keeps whichever event has the
// greater sequence number, so a stale queued event is never applied
// after a newer one.
//
// Mutated only from the engine loop - no lock.
type deferredQueue struct {
	entries map[event.Key]DeferredUpdate
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{entries: make(map[event.Key]DeferredUpdate)}
}

// Add queues an update, applying supersession against any existing
// entry for the same key.
func (q *deferredQueue) Add(ev event.CanonicalEvent, reason Reason, now time.Time) addResult {
	key := ev.Key()
	existing, ok := q.entries[key]
	if ok && ev.Seq <= existing.Seq() {
		return addStale
	}
	q.entries[key] = DeferredUpdate{Event: ev, Reason: reason, QueuedAt: now}
	if ok {
		return addSuperseded
	}
	return addQueued
}

// Drain removes and returns all queued updates in sequence order.
// Draining before re-resolution lets a flush re-queue items whose
// strategy still defers them, without self-interference.
func (q *deferredQueue) Drain() []DeferredUpdate {
	if len(q.entries) == 0 {
		return nil
	}
	items := make([]DeferredUpdate, 0, len(q.entries))
	for _, du := range q.entries {
		items = append(items, du)
	}
	q.entries = make(map[event.Key]DeferredUpdate)
	sort.Slice(items, func(i, j int) bool { return items[i].Event.Seq < items[j].Event.Seq })
	return items
}

// Len returns the number of queued updates.
func (q *deferredQueue) Len() int {
	return len(q.entries)
}

// Seq is the sequence number of the deferred event.
func (d DeferredUpdate) Seq() int64 {
	return d.Event.Seq
}
