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

const validCatalogCUE = `
catalog: {
	entities: {
		project: {}
		task: {parent: "project"}
	}
	phrases: [
		{token: "project", entity: "project"},
		{token: "task", entity: "task"},
	]
}
`

// A "task" phrase listed after its own longer extension would be fine;
// the reverse order makes "task-item" unreachable.
const invalidCatalogCUE = `
catalog: {
	entities: {
		task: {}
	}
	phrases: [
		{token: "task", entity: "task"},
		{token: "task-item", entity: "task"},
	]
}
`

func writeCatalogDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.cue"), []byte(content), 0o644))
	return dir
}

func TestValidateValidCatalog(t *testing.T) {
	dir := writeCatalogDir(t, validCatalogCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ Catalog valid")
	assert.Contains(t, buf.String(), "2 entities")
}

func TestValidateValidCatalogJSON(t *testing.T) {
	dir := writeCatalogDir(t, validCatalogCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateInvalidCatalog(t *testing.T) {
	dir := writeCatalogDir(t, invalidCatalogCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Catalog invalid")
}

func TestValidateMissingDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
