package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/event"
)

type delivery struct {
	consumer string
	ev       event.CanonicalEvent
	st       Strategy
}

func recordingConsumer(name string, got *[]delivery) Consumer {
	return func(ev event.CanonicalEvent, st Strategy) {
		*got = append(*got, delivery{consumer: name, ev: ev, st: st})
	}
}

func TestRouter_DispatchToOwnType(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	r.Register("study", recordingConsumer("study", &got))

	ev := canonical("study", "s-1", event.OpUpdate, 1)
	r.Dispatch(ev, StrategyApplyImmediately)

	require.Len(t, got, 1)
	assert.Equal(t, "study", got[0].consumer)
	assert.Equal(t, "s-1", got[0].ev.EntityID)
	assert.Equal(t, StrategyApplyImmediately, got[0].st)
}

func TestRouter_FanOutToAncestors(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	r.Register("tracker", recordingConsumer("tracker", &got))
	r.Register("reporting-effort", recordingConsumer("reporting-effort", &got))
	r.Register("database-release", recordingConsumer("database-release", &got))
	r.Register("study", recordingConsumer("study", &got))

	// A tracker mutation reaches the tracker consumer and the consumers
	// of its ancestors, but never the unrelated study consumer.
	ev := canonical("tracker", "42", event.OpDelete, 5)
	r.Dispatch(ev, StrategyApplyWithNotification)

	require.Len(t, got, 3)
	assert.Equal(t, "tracker", got[0].consumer)
	assert.Equal(t, "reporting-effort", got[1].consumer)
	assert.Equal(t, "database-release", got[2].consumer)

	// Every recipient sees the same event and the same strategy
	for _, d := range got {
		assert.Equal(t, int64(5), d.ev.Seq)
		assert.Equal(t, StrategyApplyWithNotification, d.st)
	}
}

func TestRouter_MultipleConsumersInOrder(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	r.Register("comment", recordingConsumer("first", &got))
	r.Register("comment", recordingConsumer("second", &got))

	r.Dispatch(canonical("comment", "c-1", event.OpCreate, 1), StrategyApplyImmediately)

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "first", got[0].consumer)
	assert.Equal(t, "second", got[1].consumer)
}

func TestRouter_FallbackForUnknownType(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	r.Register("tracker", recordingConsumer("tracker", &got))
	r.SetFallback(recordingConsumer("fallback", &got))

	r.Dispatch(canonical("mystery", "m-1", event.OpUpdate, 1), StrategyApplyImmediately)

	require.Len(t, got, 1)
	assert.Equal(t, "fallback", got[0].consumer)
}

func TestRouter_FallbackWhenNoConsumerRegistered(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	r.SetFallback(recordingConsumer("fallback", &got))

	r.Dispatch(canonical("tracker", "42", event.OpUpdate, 1), StrategyApplyImmediately)

	require.Len(t, got, 1)
	assert.Equal(t, "fallback", got[0].consumer)
}

func TestRouter_AncestorConsumerAloneStillReceives(t *testing.T) {
	r := NewRouter(catalog.Default())
	var got []delivery
	// Only the top-level aggregate view is registered
	r.Register("database-release", recordingConsumer("database-release", &got))

	r.Dispatch(canonical("comment", "c-1", event.OpCreate, 3), StrategyApplyImmediately)

	require.Len(t, got, 1)
	assert.Equal(t, "database-release", got[0].consumer)
	assert.Equal(t, "comment", got[0].ev.EntityType)
}
