package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_String(t *testing.T) {
	k := Key{EntityType: "tracker", EntityID: "42"}
	assert.Equal(t, "tracker/42", k.String())
}

func TestCanonicalEvent_Key(t *testing.T) {
	ev := CanonicalEvent{EntityType: "tracker", EntityID: "42"}
	assert.Equal(t, Key{EntityType: "tracker", EntityID: "42"}, ev.Key())
}

func TestCanonicalEvent_WithPayload(t *testing.T) {
	ev := CanonicalEvent{
		EntityType: "tracker",
		EntityID:   "42",
		Seq:        7,
		Payload:    map[string]any{"status": "open"},
	}

	merged := ev.WithPayload(map[string]any{"status": "closed"})

	assert.Equal(t, "closed", merged.Payload["status"])
	assert.Equal(t, int64(7), merged.Seq, "identity and sequence carry over")
	assert.Equal(t, "open", ev.Payload["status"], "original is untouched")
}

func TestParseError_Error(t *testing.T) {
	assert.Equal(t, `unparseable frame: missing type`, (&ParseError{Reason: "missing type"}).Error())
	assert.Equal(t, `unparseable frame "x-y": no known entity phrase`,
		(&ParseError{Type: "x-y", Reason: "no known entity phrase"}).Error())
}
