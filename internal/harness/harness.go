package harness

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
)

// scenarioEpoch is the fixed start time of every scenario clock.
var scenarioEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// TraceEvent is one entry in a session trace: a journaled input, a
// strategy decision, a consumer delivery, a notification, an opened
// conflict, or a reported error.
type TraceEvent struct {
	Kind       string         `json:"kind"`
	Seq        int64          `json:"seq,omitempty"`
	Frame      string         `json:"frame,omitempty"`
	Hook       string         `json:"hook,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Op         string         `json:"op,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	ConflictID string         `json:"conflict_id,omitempty"`
	Consumer   string         `json:"consumer,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is the full session trace in emission order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// DeferredLen and PendingConflicts capture the final engine state.
	DeferredLen      int `json:"deferred_len"`
	PendingConflicts int `json:"pending_conflicts"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Harness drives one engine through a scenario script and captures the
// trace. It implements the engine's Recorder, Notifier, and
// ConflictDecider callbacks; all of them fire inside the synchronous
// ProcessPending calls, so trace order matches engine processing order.
type Harness struct {
	eng *engine.Engine

	mu    sync.Mutex
	now   time.Time
	trace []TraceEvent
}

// Run executes a scenario against a fresh engine and evaluates its
// assertions. The engine runs with a deterministic clock starting at a
// fixed epoch; advance steps are the only way time passes.
func Run(scenario *Scenario) (*Result, error) {
	cat, err := loadCatalog(scenario)
	if err != nil {
		return nil, err
	}

	h := &Harness{now: scenarioEpoch}
	h.eng = engine.New(cat,
		engine.WithRecorder(h),
		engine.WithNotifier(h),
		engine.WithDecider(h),
		engine.WithNow(h.scenarioNow),
		// The idle timer must never fire on wall-clock time under the
		// harness; scenarios script idle flushes explicitly.
		engine.WithIdleThreshold(time.Hour),
	)
	defer h.eng.Stop()

	for _, name := range cat.EntityNames() {
		h.eng.RegisterConsumer(name, h.consumerFor(name))
	}

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.eng.ProcessPending()
	}

	result := &Result{
		Pass:             true,
		Trace:            h.trace,
		DeferredLen:      h.eng.DeferredLen(),
		PendingConflicts: h.eng.PendingConflicts(),
	}
	for _, a := range scenario.Assertions {
		h.evaluate(a, result)
	}
	return result, nil
}

func loadCatalog(scenario *Scenario) (*catalog.Catalog, error) {
	if scenario.Catalog == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.CompileDir(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("scenario catalog: %w", err)
	}
	return cat, nil
}

func (h *Harness) scenarioNow() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *Harness) execute(step Step) error {
	kind, err := step.stepKind()
	if err != nil {
		return err
	}
	switch kind {
	case "frame":
		h.eng.HandleFrame(frameFromStep(step))

	case "hook":
		return h.executeHook(step)

	case "resolve":
		h.eng.ResolveConflict(step.Resolve, engine.Outcome(step.Outcome), step.Merged)

	case "advance":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.now = h.now.Add(d)
		h.mu.Unlock()

	case "connectivity":
		h.eng.ConnectivityChanged(step.Connectivity == "online")
	}
	return nil
}

func (h *Harness) executeHook(step Step) error {
	switch step.Hook {
	case "modal_open":
		h.eng.ModalOpened(step.EntityType, step.EntityID, engine.ModalMode(step.Mode))
	case "modal_close":
		h.eng.ModalClosed()
	case "field_dirty":
		h.eng.FieldDirtied(step.FieldID)
	case "interaction":
		h.eng.Interacted()
	case "focus_gained":
		h.eng.FocusGained(step.EntityType, step.EntityID)
	case "focus_lost":
		h.eng.FocusLost()
	case "idle_flush":
		h.eng.FlushIdle()
	default:
		return fmt.Errorf("unknown hook %q", step.Hook)
	}
	return nil
}

func frameFromStep(step Step) event.Frame {
	f := event.Frame{Type: step.Frame}
	if step.Data != nil {
		if data, err := json.Marshal(step.Data); err == nil {
			f.Data = data
		}
	}
	return f
}

func (h *Harness) append(ev TraceEvent) {
	h.mu.Lock()
	h.trace = append(h.trace, ev)
	h.mu.Unlock()
}

// consumerFor returns the recording consumer registered for one entity
// type. The same event reaches several consumers through fan-out; the
// Consumer field says which registration received it.
func (h *Harness) consumerFor(name string) engine.Consumer {
	return func(ev event.CanonicalEvent, st engine.Strategy) {
		h.append(TraceEvent{
			Kind:       "deliver",
			Seq:        ev.Seq,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			Op:         string(ev.Op),
			Strategy:   string(st),
			Consumer:   name,
		})
	}
}

// RecordFrame implements engine.Recorder.
func (h *Harness) RecordFrame(seq int64, f event.Frame) {
	h.append(TraceEvent{Kind: "frame", Seq: seq, Frame: f.Type})
}

// RecordHook implements engine.Recorder.
func (h *Harness) RecordHook(seq int64, kind engine.HookKind, detail map[string]any) {
	h.append(TraceEvent{Kind: "hook", Seq: seq, Hook: string(kind), Detail: detail})
}

// RecordResolution implements engine.Recorder.
func (h *Harness) RecordResolution(seq int64, conflictID string, outcome engine.Outcome, merged map[string]any) {
	h.append(TraceEvent{Kind: "resolution", Seq: seq, ConflictID: conflictID, Outcome: string(outcome)})
}

// RecordDecision implements engine.Recorder.
func (h *Harness) RecordDecision(d engine.Decision) {
	h.append(TraceEvent{
		Kind:       "decision",
		Seq:        d.Seq,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Op:         string(d.Op),
		Strategy:   string(d.Strategy),
		Phase:      string(d.Phase),
		Outcome:    string(d.Outcome),
	})
}

// Notify implements engine.Notifier.
func (h *Harness) Notify(ev event.CanonicalEvent) {
	h.append(TraceEvent{
		Kind:       "notify",
		Seq:        ev.Seq,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
	})
}

// ReportError implements engine.Notifier.
func (h *Harness) ReportError(err error) {
	h.append(TraceEvent{Kind: "error", Error: err.Error()})
}

// Decide implements engine.ConflictDecider. The harness never resolves
// on its own; scenarios script resolutions as explicit steps.
func (h *Harness) Decide(rec engine.ConflictRecord) {
	h.append(TraceEvent{
		Kind:       "conflict",
		Seq:        rec.Event.Seq,
		EntityType: rec.Event.EntityType,
		EntityID:   rec.Event.EntityID,
		ConflictID: rec.ID,
	})
}
