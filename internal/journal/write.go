package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
)

// Journal implements engine.Recorder. The recorder interface is
// fire-and-forget: write failures are logged, never surfaced to the
// loop - a journaling problem must not stall event processing.

// RecordFrame journals a successfully normalized inbound frame.
func (j *Journal) RecordFrame(seq int64, f event.Frame) {
	if err := j.writeFrame(context.Background(), seq, f); err != nil {
		slog.Error("journal frame write failed", "seq", seq, "type", f.Type, "error", err)
	}
}

// RecordHook journals a UI lifecycle hook.
func (j *Journal) RecordHook(seq int64, kind engine.HookKind, detail map[string]any) {
	if err := j.writeHook(context.Background(), seq, kind, detail); err != nil {
		slog.Error("journal hook write failed", "seq", seq, "kind", kind, "error", err)
	}
}

// RecordResolution journals a conflict resolution input.
func (j *Journal) RecordResolution(seq int64, conflictID string, outcome engine.Outcome, merged map[string]any) {
	if err := j.writeResolution(context.Background(), seq, conflictID, outcome, merged); err != nil {
		slog.Error("journal resolution write failed", "seq", seq, "conflict_id", conflictID, "error", err)
	}
}

// RecordDecision journals one strategy decision.
func (j *Journal) RecordDecision(d engine.Decision) {
	if err := j.writeDecision(context.Background(), d); err != nil {
		slog.Error("journal decision write failed", "seq", d.Seq, "error", err)
	}
}

// writeFrame inserts a frame input. Uses ON CONFLICT(seq) DO NOTHING
// for idempotency - one input per sequence number.
func (j *Journal) writeFrame(ctx context.Context, seq int64, f event.Frame) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO inputs (seq, kind, frame_type, data)
		VALUES (?, 'frame', ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, f.Type, string(f.Data))
	if err != nil {
		return fmt.Errorf("write frame input: %w", err)
	}
	return nil
}

// writeHook inserts a hook input, with its detail serialized as JSON.
func (j *Journal) writeHook(ctx context.Context, seq int64, kind engine.HookKind, detail map[string]any) error {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return fmt.Errorf("write hook input: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO inputs (seq, kind, hook_kind, detail)
		VALUES (?, 'hook', ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, string(kind), detailJSON)
	if err != nil {
		return fmt.Errorf("write hook input: %w", err)
	}
	return nil
}

// writeResolution inserts a resolution input, with the merged payload
// (if any) serialized as JSON.
func (j *Journal) writeResolution(ctx context.Context, seq int64, conflictID string, outcome engine.Outcome, merged map[string]any) error {
	mergedJSON, err := marshalDetail(merged)
	if err != nil {
		return fmt.Errorf("write resolution input: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO inputs (seq, kind, conflict_id, outcome, data)
		VALUES (?, 'resolution', ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, seq, conflictID, string(outcome), mergedJSON)
	if err != nil {
		return fmt.Errorf("write resolution input: %w", err)
	}
	return nil
}

// writeDecision appends one decision to the decision stream.
// Decisions are not keyed by seq: one event can produce several
// decisions across phases (initial queue, flush re-resolution).
func (j *Journal) writeDecision(ctx context.Context, d engine.Decision) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions (seq, entity_type, entity_id, op, strategy, phase, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		d.Seq,
		d.EntityType,
		d.EntityID,
		string(d.Op),
		string(d.Strategy),
		string(d.Phase),
		string(d.Outcome),
	)
	if err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

// marshalDetail serializes a detail map to JSON. Nil maps serialize to
// SQL NULL so absent and empty details stay distinguishable.
func marshalDetail(detail map[string]any) (any, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal detail: %w", err)
	}
	return string(b), nil
}
