package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/catalog"
)

// countingSeq is a test sequencer counting from 1.
type countingSeq struct {
	n int64
}

func (s *countingSeq) Next() int64 {
	s.n++
	return s.n
}

func testNormalizer(t *testing.T) (*Normalizer, *countingSeq) {
	t.Helper()
	seq := &countingSeq{}
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	n := NewNormalizer(catalog.Default(), seq, WithNow(func() time.Time { return fixed }))
	return n, seq
}

func frame(typ, body string) Frame {
	return Frame{Type: typ, Data: json.RawMessage(body)}
}

func TestNormalize_EntityAndOperation(t *testing.T) {
	n, _ := testNormalizer(t)

	tests := []struct {
		typ        string
		wantEntity string
		wantOp     Operation
	}{
		{"tracker-created", "tracker", OpCreate},
		{"tracker-updated", "tracker", OpUpdate},
		{"tracker-deleted", "tracker", OpDelete},
		{"comment-created", "comment", OpCreate},
		{"study-updated", "study", OpUpdate},
		{"database-release-updated", "database-release", OpUpdate},
		{"reporting-effort-updated", "reporting-effort", OpUpdate},

		// Longer phrases win over the shorter phrases they extend
		{"reporting-effort-tracker-deleted", "tracker", OpDelete},
		{"tracker-count-updated", "tracker-count", OpUpdate},
		{"tracker-comment-created", "comment", OpCreate},

		// Unknown suffixes default to update
		{"tracker-touched", "tracker", OpUpdate},
		{"tracker", "tracker", OpUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ev, err := n.Normalize(frame(tt.typ, `{"id":"1"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntity, ev.EntityType)
			assert.Equal(t, tt.wantOp, ev.Op)
		})
	}
}

func TestNormalize_TokenCanonicalization(t *testing.T) {
	n, _ := testNormalizer(t)

	// Underscore and case variants fold to the same token
	for _, typ := range []string{"Tracker_Updated", "tracker_updated", "  tracker-updated  "} {
		ev, err := n.Normalize(frame(typ, `{"id":"1"}`))
		require.NoError(t, err, "type %q", typ)
		assert.Equal(t, "tracker", ev.EntityType)
		assert.Equal(t, OpUpdate, ev.Op)
	}
}

func TestNormalize_CollectionSnapshot(t *testing.T) {
	n, _ := testNormalizer(t)

	ev, err := n.Normalize(frame("studies_update", `[{"id":"s-1"},{"id":"s-2"}]`))
	require.NoError(t, err)
	assert.Equal(t, "study", ev.EntityType)
	assert.Equal(t, OpRead, ev.Op, "list-replace frames normalize to read")
	require.Len(t, ev.Collection, 2)
	assert.Equal(t, "s-1", ev.Collection[0]["id"])
	assert.Empty(t, ev.EntityID, "collection events have no single entity id")
}

func TestNormalize_CollectionWrappedInItems(t *testing.T) {
	n, _ := testNormalizer(t)

	ev, err := n.Normalize(frame("studies", `{"items":[{"id":"s-1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, OpRead, ev.Op)
	require.Len(t, ev.Collection, 1)
}

func TestNormalize_PayloadAndID(t *testing.T) {
	n, _ := testNormalizer(t)

	ev, err := n.Normalize(frame("tracker-updated", `{"id":"42","status":"open"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.EntityID)
	assert.Equal(t, "open", ev.Payload["status"])

	// Numeric ids normalize to their decimal string
	ev, err = n.Normalize(frame("tracker-updated", `{"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", ev.EntityID)

	// Missing id is tolerated
	ev, err = n.Normalize(frame("tracker-updated", `{"status":"open"}`))
	require.NoError(t, err)
	assert.Empty(t, ev.EntityID)
}

func TestNormalize_SequenceAssignment(t *testing.T) {
	n, seq := testNormalizer(t)

	ev1, err := n.Normalize(frame("tracker-updated", `{"id":"1"}`))
	require.NoError(t, err)
	ev2, err := n.Normalize(frame("tracker-updated", `{"id":"2"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), ev1.Seq)
	assert.Equal(t, int64(2), ev2.Seq)
	assert.False(t, ev1.ReceivedAt.IsZero())

	// A dropped frame consumes no sequence number
	_, err = n.Normalize(frame("unknown-thing-updated", `{}`))
	require.Error(t, err)
	assert.Equal(t, int64(2), seq.n)
}

func TestNormalize_Drops(t *testing.T) {
	n, _ := testNormalizer(t)

	tests := []struct {
		name string
		f    Frame
	}{
		{"empty type", frame("", `{}`)},
		{"whitespace type", frame("   ", `{}`)},
		{"unknown phrase", frame("invoice-created", `{}`)},
		{"payload not an object", frame("tracker-updated", `[1,2]`)},
		{"collection items not a list", frame("studies", `{"items":3}`)},
		{"malformed json", frame("tracker-updated", `{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.f)
			require.Error(t, err)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestNormalize_NullBodyTolerated(t *testing.T) {
	n, _ := testNormalizer(t)

	ev, err := n.Normalize(Frame{Type: "tracker-deleted"})
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)

	ev, err = n.Normalize(frame("tracker-deleted", `null`))
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)
}

func TestIDFromPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"string id", map[string]any{"id": "abc"}, "abc"},
		{"integer id", map[string]any{"id": float64(7)}, "7"},
		{"fractional id", map[string]any{"id": 7.5}, "7.5"},
		{"json number id", map[string]any{"id": json.Number("19")}, "19"},
		{"missing id", map[string]any{"name": "x"}, ""},
		{"unsupported id type", map[string]any{"id": true}, ""},
		{"nil payload", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IDFromPayload(tt.payload))
		})
	}
}
