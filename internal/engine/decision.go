package engine

import "github.com/syncline/syncline/internal/event"

// DecisionPhase records when a strategy decision was made.
type DecisionPhase string

const (
	// PhaseInitial is the decision made when the event first arrived.
	PhaseInitial DecisionPhase = "initial"
	// PhaseFlush is a re-resolution at deferred-queue flush time.
	PhaseFlush DecisionPhase = "flush"
	// PhaseResolution is the application outcome of a resolved conflict.
	PhaseResolution DecisionPhase = "resolution"
)

// Decision is one strategy decision for one canonical event. The
// ordered decision stream is the engine's observable behavior: the
// journal records it, and replay verifies a fresh engine reproduces it.
type Decision struct {
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Op         event.Operation `json:"op"`
	Strategy   Strategy        `json:"strategy"`
	Phase      DecisionPhase   `json:"phase"`

	// Outcome is set for resolution-phase decisions.
	Outcome Outcome `json:"outcome,omitempty"`
}

// Recorder observes the engine's inputs and decisions. The session
// journal implements it; tests use in-memory recorders.
//
// All methods are invoked from the engine loop, in order.
type Recorder interface {
	// RecordFrame observes a successfully normalized inbound frame and
	// the sequence number it was assigned. Dropped frames are not
	// recorded.
	RecordFrame(seq int64, f event.Frame)

	// RecordHook observes a UI lifecycle hook, with the loop sequence
	// number it was processed at and its replayable detail. Idle timer
	// firings are recorded as the synthetic HookIdleFlush.
	RecordHook(seq int64, kind HookKind, detail map[string]any)

	// RecordResolution observes a conflict resolution decision arriving
	// at the loop. Recorded before the resolution is applied, so a
	// resolution for an unknown conflict still appears in the input
	// stream.
	RecordResolution(seq int64, conflictID string, outcome Outcome, merged map[string]any)

	// RecordDecision observes one strategy decision.
	RecordDecision(d Decision)
}

// NopRecorder discards everything. It is the default when no journal is
// wired in.
type NopRecorder struct{}

func (NopRecorder) RecordFrame(int64, event.Frame) {}

func (NopRecorder) RecordHook(int64, HookKind, map[string]any) {}

func (NopRecorder) RecordResolution(int64, string, Outcome, map[string]any) {}

func (NopRecorder) RecordDecision(Decision) {}
