// Package event defines the canonical event shape and the normalization
// boundary that produces it.
//
// Raw inbound frames are duck-typed: the frame type string encodes both
// the entity and the operation, and payload shapes vary per entity.
// Normalization happens exactly once, here. No downstream component
// re-parses raw frames - everything past this boundary works with
// CanonicalEvent.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the canonical mutation kind carried by an event.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	// OpRead marks snapshot refreshes: bulk/list-replace frames carrying
	// a full collection rather than a delta. Snapshot events must never
	// be treated as creates by counter reconciliation.
	OpRead Operation = "read"
)

// Frame is a raw inbound frame as delivered by the transport.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Key identifies an entity instance. Deferred updates, conflicts, and
// counters are all keyed by it.
type Key struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

func (k Key) String() string {
	return k.EntityType + "/" + k.EntityID
}

// CanonicalEvent is the normalized representation of a remote mutation
// notification. Immutable once constructed.
//
// Seq is a process-local, strictly increasing counter assigned at
// arrival. Ordering decisions (supersession, counter reconciliation)
// use Seq, never wall-clock timestamps, to avoid clock-skew bugs.
// ReceivedAt is informational only.
type CanonicalEvent struct {
	EntityType string         `json:"entity_type"`
	Op         Operation      `json:"op"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`

	// Collection holds the full entity list for snapshot (OpRead)
	// events. Nil for delta events.
	Collection []map[string]any `json:"collection,omitempty"`

	Seq        int64     `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
}

// Key returns the entity instance key for the event.
func (e CanonicalEvent) Key() Key {
	return Key{EntityType: e.EntityType, EntityID: e.EntityID}
}

// WithPayload returns a copy of the event carrying a replacement
// payload. Used when a conflict resolves with a merged payload: the
// merged event keeps the original sequence and identity.
func (e CanonicalEvent) WithPayload(payload map[string]any) CanonicalEvent {
	e.Payload = payload
	return e
}

// ParseError reports a frame that could not be normalized. Malformed
// frames are dropped and logged by the engine, never thrown - a single
// bad frame must not stop the stream.
type ParseError struct {
	Type   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("unparseable frame: %s", e.Reason)
	}
	return fmt.Sprintf("unparseable frame %q: %s", e.Type, e.Reason)
}
