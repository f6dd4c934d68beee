package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
)

// replayIdleThreshold keeps the replayed engine's real idle timer from
// firing mid-replay; idle flushes arrive as journaled inputs instead.
const replayIdleThreshold = time.Hour

// Divergence is one mismatch between the journaled decision stream and
// the decisions a replayed engine produced at the same position.
type Divergence struct {
	// Index is the position in the decision stream.
	Index int

	// Expected is the journaled decision, nil when replay produced an
	// extra decision past the journaled stream.
	Expected *engine.Decision

	// Actual is the replayed decision, nil when replay produced fewer
	// decisions than journaled.
	Actual *engine.Decision
}

func (d Divergence) String() string {
	switch {
	case d.Expected == nil:
		return fmt.Sprintf("decision %d: extra %s", d.Index, formatDecision(*d.Actual))
	case d.Actual == nil:
		return fmt.Sprintf("decision %d: missing %s", d.Index, formatDecision(*d.Expected))
	default:
		return fmt.Sprintf("decision %d: journaled %s, replayed %s",
			d.Index, formatDecision(*d.Expected), formatDecision(*d.Actual))
	}
}

func formatDecision(d engine.Decision) string {
	s := fmt.Sprintf("seq=%d %s/%s %s %s/%s", d.Seq, d.EntityType, d.EntityID, d.Op, d.Strategy, d.Phase)
	if d.Outcome != "" {
		s += fmt.Sprintf(" outcome=%s", d.Outcome)
	}
	return s
}

// ReplayResult is the outcome of replaying a journaled session.
type ReplayResult struct {
	// Inputs is the number of journaled inputs fed to the fresh engine.
	Inputs int

	// Expected is the journaled decision stream.
	Expected []engine.Decision

	// Actual is the decision stream the replayed engine produced.
	Actual []engine.Decision

	// Divergences lists every position where the streams differ.
	Divergences []Divergence
}

// Deterministic reports whether the replayed engine reproduced the
// journaled decision stream exactly.
func (r ReplayResult) Deterministic() bool {
	return len(r.Divergences) == 0
}

// decisionCapture captures the replayed engine's decision stream. The
// input-side recorder methods are no-ops: replay re-feeds inputs, it
// does not re-journal them.
type decisionCapture struct {
	decisions []engine.Decision
}

func (c *decisionCapture) RecordFrame(int64, event.Frame) {}

func (c *decisionCapture) RecordHook(int64, engine.HookKind, map[string]any) {}

func (c *decisionCapture) RecordResolution(int64, string, engine.Outcome, map[string]any) {}

func (c *decisionCapture) RecordDecision(d engine.Decision) {
	c.decisions = append(c.decisions, d)
}

// Replay feeds a journaled session's input stream to a fresh engine
// over the given catalog and compares the resulting decision stream
// against the journaled one.
//
// The engine's strategy resolution is pure over (context, event), and
// all its ordering derives from the logical clock, so feeding the same
// inputs in the same order must reproduce the same decisions. A
// divergence means the engine (or the catalog it was given) changed
// behavior since the session was recorded.
func Replay(ctx context.Context, j *Journal, cat *catalog.Catalog) (ReplayResult, error) {
	inputs, err := j.ReadInputs(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}
	expected, err := j.ReadDecisions(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}

	// The busy window compares event time against the last interaction,
	// so the replayed engine must see the gaps between the original
	// inputs, not the replay machine's clock.
	current := time.Now()
	rec := &decisionCapture{}
	eng := engine.New(cat,
		engine.WithRecorder(rec),
		engine.WithNow(func() time.Time { return current }),
		// Idle flushes are journaled inputs; the real timer must not
		// inject extra ones mid-replay.
		engine.WithIdleThreshold(replayIdleThreshold),
	)
	defer eng.Stop()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return ReplayResult{}, fmt.Errorf("replay: %w", err)
		}
		if !in.RecordedAt.IsZero() {
			current = in.RecordedAt
		}
		if err := feedInput(eng, in); err != nil {
			return ReplayResult{}, fmt.Errorf("replay seq %d: %w", in.Seq, err)
		}
		eng.ProcessPending()
	}

	result := ReplayResult{
		Inputs:   len(inputs),
		Expected: expected,
		Actual:   rec.decisions,
	}
	result.Divergences = diffDecisions(expected, rec.decisions)
	return result, nil
}

// feedInput re-submits one journaled input through the engine's public
// API.
func feedInput(eng *engine.Engine, in Input) error {
	switch in.Kind {
	case InputFrame:
		eng.HandleFrame(in.Frame)
		return nil

	case InputHook:
		return feedHook(eng, in)

	case InputResolution:
		eng.ResolveConflict(in.ConflictID, in.Outcome, in.Merged)
		return nil

	default:
		return fmt.Errorf("unknown input kind %q", in.Kind)
	}
}

func feedHook(eng *engine.Engine, in Input) error {
	switch in.HookKind {
	case engine.HookModalOpen:
		return feedModalOpen(eng, in)

	case engine.HookModalClose:
		eng.ModalClosed()
		return nil

	case engine.HookFieldDirty:
		fieldID, _ := in.Detail["field_id"].(string)
		eng.FieldDirtied(fieldID)
		return nil

	case engine.HookInteraction:
		eng.Interacted()
		return nil

	case engine.HookFocusGained:
		entityType, _ := in.Detail["entity_type"].(string)
		entityID, _ := in.Detail["entity_id"].(string)
		eng.FocusGained(entityType, entityID)
		return nil

	case engine.HookFocusLost:
		eng.FocusLost()
		return nil

	case engine.HookIdleFlush:
		eng.FlushIdle()
		return nil

	default:
		return fmt.Errorf("unknown hook kind %q", in.HookKind)
	}
}

func feedModalOpen(eng *engine.Engine, in Input) error {
	entityType, _ := in.Detail["entity_type"].(string)
	entityID, _ := in.Detail["entity_id"].(string)
	mode, _ := in.Detail["mode"].(string)
	if entityType == "" {
		return fmt.Errorf("modal open input missing entity_type")
	}
	eng.ModalOpened(entityType, entityID, engine.ModalMode(mode))
	return nil
}

// diffDecisions compares the streams position by position.
func diffDecisions(expected, actual []engine.Decision) []Divergence {
	var divs []Divergence
	n := len(expected)
	if len(actual) > n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(expected):
			a := actual[i]
			divs = append(divs, Divergence{Index: i, Actual: &a})
		case i >= len(actual):
			e := expected[i]
			divs = append(divs, Divergence{Index: i, Expected: &e})
		case expected[i] != actual[i]:
			e, a := expected[i], actual[i]
			divs = append(divs, Divergence{Index: i, Expected: &e, Actual: &a})
		}
	}
	return divs
}
