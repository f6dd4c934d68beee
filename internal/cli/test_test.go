package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenarioYAML = `
name: apply-when-idle
description: an idle user gets visible updates with a notification
steps:
  - frame: tracker-updated
    data:
      id: 7
assertions:
  - type: strategy
    seq: 1
    strategy: apply_with_notification
  - type: deferred
    count: 0
`

const failingScenarioYAML = `
name: wrong-expectation
description: asserts a strategy the engine never picks here
steps:
  - frame: tracker-updated
    data:
      id: 7
assertions:
  - type: strategy
    seq: 1
    strategy: queue_for_idle
`

func writeScenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestTestCommand_AllPass(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"apply.yaml": passingScenarioYAML})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ apply-when-idle")
	assert.Contains(t, buf.String(), "1 scenarios: 1 passed, 0 failed")
}

func TestTestCommand_FailureSetsExitCode(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"apply.yaml": passingScenarioYAML,
		"wrong.yaml": failingScenarioYAML,
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong-expectation")
	assert.Contains(t, buf.String(), "1 failed")
}

func TestTestCommand_JSON(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"apply.yaml": passingScenarioYAML})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TestResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Passed)
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_MalformedScenario(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"bad.yaml": "name: only-a-name\n"})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
