package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
)

// InputKind distinguishes journaled input rows.
type InputKind string

const (
	InputFrame      InputKind = "frame"
	InputHook       InputKind = "hook"
	InputResolution InputKind = "resolution"
)

// Input is one journaled engine input. Exactly one of the kind-specific
// field groups is populated.
type Input struct {
	Seq  int64
	Kind InputKind

	// RecordedAt is the wall-clock write time. Replay uses it as the
	// engine's time source so busy-window checks see the original gaps
	// between inputs; it is never used for ordering.
	RecordedAt time.Time

	// Frame inputs
	Frame event.Frame

	// Hook inputs
	HookKind engine.HookKind
	Detail   map[string]any

	// Resolution inputs
	ConflictID string
	Outcome    engine.Outcome
	Merged     map[string]any
}

// ReadInputs returns the full input stream in sequence order.
func (j *Journal) ReadInputs(ctx context.Context) ([]Input, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, frame_type, hook_kind, detail, conflict_id, outcome, data, recorded_at
		FROM inputs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	defer rows.Close()

	var inputs []Input
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return inputs, nil
}

func scanInput(rows *sql.Rows) (Input, error) {
	var (
		in         Input
		kind       string
		frameType  sql.NullString
		hookKind   sql.NullString
		detail     sql.NullString
		conflictID sql.NullString
		outcome    sql.NullString
		data       sql.NullString
		recordedAt string
	)
	if err := rows.Scan(&in.Seq, &kind, &frameType, &hookKind, &detail, &conflictID, &outcome, &data, &recordedAt); err != nil {
		return Input{}, err
	}
	in.Kind = InputKind(kind)
	if ts, err := time.Parse(time.RFC3339, recordedAt); err == nil {
		in.RecordedAt = ts
	}

	switch in.Kind {
	case InputFrame:
		in.Frame = event.Frame{Type: frameType.String}
		if data.Valid {
			in.Frame.Data = json.RawMessage(data.String)
		}

	case InputHook:
		in.HookKind = engine.HookKind(hookKind.String)
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &in.Detail); err != nil {
				return Input{}, fmt.Errorf("decode hook detail (seq %d): %w", in.Seq, err)
			}
		}

	case InputResolution:
		in.ConflictID = conflictID.String
		in.Outcome = engine.Outcome(outcome.String)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &in.Merged); err != nil {
				return Input{}, fmt.Errorf("decode merged payload (seq %d): %w", in.Seq, err)
			}
		}

	default:
		return Input{}, fmt.Errorf("unknown input kind %q (seq %d)", kind, in.Seq)
	}

	return in, nil
}

// ReadDecisions returns the decision stream in insertion order.
func (j *Journal) ReadDecisions(ctx context.Context) ([]engine.Decision, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, entity_type, entity_id, op, strategy, phase, outcome
		FROM decisions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	defer rows.Close()

	var decisions []engine.Decision
	for rows.Next() {
		var (
			d        engine.Decision
			op       string
			strategy string
			phase    string
			outcome  string
		)
		if err := rows.Scan(&d.Seq, &d.EntityType, &d.EntityID, &op, &strategy, &phase, &outcome); err != nil {
			return nil, fmt.Errorf("read decisions: %w", err)
		}
		d.Op = event.Operation(op)
		d.Strategy = engine.Strategy(strategy)
		d.Phase = engine.DecisionPhase(phase)
		d.Outcome = engine.Outcome(outcome)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	return decisions, nil
}

// LastSeq returns the highest journaled input sequence number, or 0 for
// an empty journal. A resumed engine starts its clock past it.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM inputs`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
