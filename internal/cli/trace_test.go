package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
	"github.com/syncline/syncline/internal/journal"
)

// writeTraceJournal records a short session with one of every input
// kind: a frame, a modal hook, a conflicting frame, and its resolution.
func writeTraceJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")

	j, err := journal.Open(path)
	require.NoError(t, err)

	j.RecordFrame(1, event.Frame{Type: "comment-created", Data: json.RawMessage(`{"id": "c-9"}`)})
	j.RecordHook(2, engine.HookModalOpen, map[string]any{
		"entity_type": "tracker", "entity_id": "42", "mode": "edit",
	})
	j.RecordFrame(3, event.Frame{Type: "tracker-updated", Data: json.RawMessage(`{"id": 42}`)})
	j.RecordResolution(4, "conflict-3", engine.OutcomeTakeRemote, nil)

	j.RecordDecision(engine.Decision{
		Seq: 1, EntityType: "comment", EntityID: "c-9",
		Op: event.OpCreate, Strategy: engine.StrategyApplyWithNotification,
		Phase: engine.PhaseInitial,
	})
	j.RecordDecision(engine.Decision{
		Seq: 3, EntityType: "tracker", EntityID: "42",
		Op: event.OpUpdate, Strategy: engine.StrategyShowConflict,
		Phase: engine.PhaseInitial,
	})
	j.RecordDecision(engine.Decision{
		Seq: 3, EntityType: "tracker", EntityID: "42",
		Op: event.OpUpdate, Strategy: engine.StrategyShowConflict,
		Phase: engine.PhaseResolution, Outcome: engine.OutcomeTakeRemote,
	})
	require.NoError(t, j.Close())

	return path
}

func TestTraceText(t *testing.T) {
	path := writeTraceJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTraceCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "frame comment-created")
	assert.Contains(t, out, "hook modal_open")
	assert.Contains(t, out, "resolution conflict-3 -> take_remote")
	assert.Contains(t, out, "tracker/42 update -> show_conflict (initial)")
	assert.Contains(t, out, "outcome=take_remote")
	assert.Contains(t, out, "4 inputs (2 frames, 1 hooks, 1 resolutions), 3 decisions")
}

func TestTraceEntityFilter(t *testing.T) {
	path := writeTraceJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTraceCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path, "--entity", "tracker"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "tracker/42")
	assert.NotContains(t, out, "comment/c-9")
	// Inputs are not filtered, only the decision stream.
	assert.Contains(t, out, "frame comment-created")
	assert.Contains(t, out, "2 decisions")
}

func TestTraceJSON(t *testing.T) {
	path := writeTraceJournal(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTraceCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", path})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TraceResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Decisions, 3)
	assert.Equal(t, 4, result.Stats.Inputs)
	assert.Equal(t, 2, result.Stats.Frames)
}

func TestTraceMissingJournal(t *testing.T) {
	// Open creates the file, so point at a path whose directory does
	// not exist to force an error.
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTraceCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "no-such-dir", "x.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
