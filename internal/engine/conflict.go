package engine

import (
	"fmt"
	"time"

	"github.com/syncline/syncline/internal/event"
)

// ConflictState is the lifecycle state of a conflict record.
type ConflictState string

const (
	ConflictPending  ConflictState = "pending"
	ConflictResolved ConflictState = "resolved"
)

// Outcome is the resolution decision for a conflict.
type Outcome string

const (
	// OutcomeKeepLocal discards the remote event entirely. The local
	// edit wins; remote state stays un-applied client-side until the
	// user's own save produces a fresh authoritative event.
	OutcomeKeepLocal Outcome = "keep_local"
	// OutcomeTakeRemote discards local unsaved edits and applies the
	// remote event as if no conflict existed.
	OutcomeTakeRemote Outcome = "take_remote"
	// OutcomeMerged applies a caller-supplied merged payload as an
	// update.
	OutcomeMerged Outcome = "merged"
)

// valid reports whether the outcome is one of the three resolution
// protocol outcomes. Outcome is a string type that crosses the public
// API and the journal, so arbitrary values can arrive here.
func (o Outcome) valid() bool {
	switch o {
	case OutcomeKeepLocal, OutcomeTakeRemote, OutcomeMerged:
		return true
	}
	return false
}

// ConflictRecord tracks one direct collision between a remote update
// and a local in-flight edit. Created on conflict detection, resolved
// exactly once via the resolution protocol, then discarded.
//
// While a record is pending, subsequent events for the same entity key
// queue behind it - resolution is driven by an explicit user decision,
// not a timeout, so an unresolved conflict blocks that key
// indefinitely. That is an accepted design choice.
type ConflictRecord struct {
	ID       string
	Event    event.CanonicalEvent
	Context  Snapshot
	State    ConflictState
	Outcome  Outcome
	OpenedAt time.Time
}

// conflictHandler owns the pending conflict records.
// Mutated only from the engine loop - no lock.
type conflictHandler struct {
	byID  map[string]*ConflictRecord
	byKey map[event.Key]*ConflictRecord
}

func newConflictHandler() *conflictHandler {
	return &conflictHandler{
		byID:  make(map[string]*ConflictRecord),
		byKey: make(map[event.Key]*ConflictRecord),
	}
}

// conflictID derives the record id from the conflicting event's
// sequence number. Seq is unique per event and reproduced by replay, so
// the id is stable across replays (a random token would not be).
func conflictID(ev event.CanonicalEvent) string {
	return fmt.Sprintf("conflict-%d", ev.Seq)
}

// Open creates a pending record for a detected conflict. The context
// snapshot captures what the user was doing at detection time, for the
// presentation layer's resolution UI.
func (h *conflictHandler) Open(ev event.CanonicalEvent, sn Snapshot, now time.Time) ConflictRecord {
	rec := &ConflictRecord{
		ID:       conflictID(ev),
		Event:    ev,
		Context:  sn,
		State:    ConflictPending,
		OpenedAt: now,
	}
	h.byID[rec.ID] = rec
	h.byKey[ev.Key()] = rec
	return *rec
}

// Pending reports whether a conflict is pending for the entity key.
func (h *conflictHandler) Pending(key event.Key) bool {
	_, ok := h.byKey[key]
	return ok
}

// PendingCount returns the number of unresolved conflicts.
func (h *conflictHandler) PendingCount() int {
	return len(h.byID)
}

// Resolve transitions a pending record to resolved with the given
// outcome and discards it. A record resolves exactly once: an unknown
// or already-resolved id returns an error. An outcome outside the
// resolution protocol is rejected and leaves the record pending, so a
// later valid resolution can still consume it.
func (h *conflictHandler) Resolve(id string, outcome Outcome) (ConflictRecord, error) {
	rec, ok := h.byID[id]
	if !ok {
		return ConflictRecord{}, newUnknownConflictError(id)
	}
	if !outcome.valid() {
		return ConflictRecord{}, newInvalidOutcomeError(id, outcome)
	}
	rec.State = ConflictResolved
	rec.Outcome = outcome
	delete(h.byID, id)
	delete(h.byKey, rec.Event.Key())
	return *rec, nil
}
