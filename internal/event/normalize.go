package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/syncline/syncline/internal/catalog"
)

// Sequencer hands out strictly increasing sequence numbers.
// Implemented by the engine's logical clock.
type Sequencer interface {
	Next() int64
}

// Operation suffixes recognized in frame type tokens. Unrecognized
// suffixes default to update.
var suffixOps = map[string]Operation{
	"created":     OpCreate,
	"updated":     OpUpdate,
	"deleted":     OpDelete,
	"bulk-update": OpRead,
}

// Normalizer parses raw frames into canonical events.
//
// The frame type is a token composed of an entity-type phrase and an
// operation suffix. Some phrases are prefixes of others, so matching
// walks the catalog's ordered precedence table: longer, more specific
// phrases are tested before the shorter phrases they extend. This is an
// explicit ordered table, not a first-match scan over an unordered set.
type Normalizer struct {
	cat *catalog.Catalog
	seq Sequencer
	now func() time.Time
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithNow overrides the arrival timestamp source (for tests).
func WithNow(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) {
		n.now = now
	}
}

// NewNormalizer creates a Normalizer over the given catalog.
// Sequence numbers are drawn from seq at arrival.
func NewNormalizer(cat *catalog.Catalog, seq Sequencer, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		cat: cat,
		seq: seq,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize parses a raw frame into a CanonicalEvent and assigns its
// sequence number. Returns a ParseError for frames that should be
// dropped (missing type, unknown phrase, undecodable payload).
//
// The sequence number is only consumed on success, so dropped frames
// leave no gaps.
func (n *Normalizer) Normalize(f Frame) (CanonicalEvent, error) {
	if strings.TrimSpace(f.Type) == "" {
		return CanonicalEvent{}, &ParseError{Reason: "missing type"}
	}

	token := canonicalToken(f.Type)

	phrase, suffix, ok := n.matchPhrase(token)
	if !ok {
		return CanonicalEvent{}, &ParseError{Type: f.Type, Reason: "no known entity phrase"}
	}

	op, known := suffixOps[suffix]
	if !known {
		// Unrecognized suffixes (including none) default to update.
		op = OpUpdate
	}

	ev := CanonicalEvent{
		EntityType: phrase.Entity,
		Op:         op,
	}

	if phrase.Collection {
		// List-replace frames carry a full collection snapshot, not a
		// delta. They normalize to a read regardless of suffix.
		ev.Op = OpRead
		collection, err := decodeCollection(f.Data)
		if err != nil {
			return CanonicalEvent{}, &ParseError{Type: f.Type, Reason: err.Error()}
		}
		ev.Collection = collection
	} else {
		payload, err := decodePayload(f.Data)
		if err != nil {
			return CanonicalEvent{}, &ParseError{Type: f.Type, Reason: err.Error()}
		}
		ev.Payload = payload
		ev.EntityID = IDFromPayload(payload)
	}

	ev.Seq = n.seq.Next()
	ev.ReceivedAt = n.now()
	return ev, nil
}

// matchPhrase finds the first phrase in precedence order that the token
// starts with, and returns the remaining operation suffix.
func (n *Normalizer) matchPhrase(token string) (catalog.Phrase, string, bool) {
	for _, p := range n.cat.Phrases() {
		if token == p.Token {
			return p, "", true
		}
		if strings.HasPrefix(token, p.Token) && len(token) > len(p.Token) && token[len(p.Token)] == '-' {
			return p, token[len(p.Token)+1:], true
		}
	}
	return catalog.Phrase{}, "", false
}

// canonicalToken normalizes a frame type for phrase matching: NFC
// normalization, lower case, and underscores folded to hyphens
// ("studies_update" and "studies-update" are the same token).
func canonicalToken(raw string) string {
	token := norm.NFC.String(raw)
	token = strings.ToLower(strings.TrimSpace(token))
	return strings.ReplaceAll(token, "_", "-")
}

// decodePayload decodes a delta frame body into a payload map.
// Absent or null bodies yield a nil payload.
func decodePayload(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// decodeCollection decodes a list-replace frame body. Accepts either a
// bare array or an object wrapping the array under "items".
func decodeCollection(data json.RawMessage) ([]map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var collection []map[string]any
	if err := json.Unmarshal(data, &collection); err == nil {
		return collection, nil
	}

	var wrapper struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Items, nil
}

// IDFromPayload extracts the entity id from a decoded payload,
// tolerating string or numeric JSON ids. Returns "" when the payload
// carries no id. Also used by counter reconciliation to key collection
// snapshot items.
func IDFromPayload(payload map[string]any) string {
	raw, ok := payload["id"]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
