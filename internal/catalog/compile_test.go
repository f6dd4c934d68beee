package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileString(t *testing.T, src string) (*Catalog, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileCatalog(v.LookupPath(cue.ParsePath("catalog")))
}

const validCatalogCUE = `
catalog: {
	entities: {
		"database-release": {}
		"reporting-effort": {parent: "database-release"}
		tracker: {parent: "reporting-effort", categories: ["comments", "findings"]}
		"tracker-count": {parent: "tracker", nonVisible: true}
	}
	phrases: [
		{token: "reporting-effort-tracker", entity: "tracker"},
		{token: "reporting-effort", entity: "reporting-effort"},
		{token: "database-release", entity: "database-release"},
		{token: "tracker-count", entity: "tracker-count"},
		{token: "tracker", entity: "tracker"},
	]
}
`

func TestCompileCatalog_Valid(t *testing.T) {
	cat, err := compileString(t, validCatalogCUE)
	require.NoError(t, err)

	e, ok := cat.Entity("tracker")
	require.True(t, ok)
	assert.Equal(t, "reporting-effort", e.Parent)
	assert.Equal(t, []string{"comments", "findings"}, e.Categories)

	assert.True(t, cat.NonVisible("tracker-count"))

	// Phrase precedence order survives compilation
	phrases := cat.Phrases()
	require.Len(t, phrases, 5)
	assert.Equal(t, "reporting-effort-tracker", phrases[0].Token)
	assert.Equal(t, "tracker", phrases[4].Token)
}

func TestCompileCatalog_CollectionPhrase(t *testing.T) {
	cat, err := compileString(t, `
catalog: {
	entities: {study: {}}
	phrases: [
		{token: "studies", entity: "study", collection: true},
		{token: "study", entity: "study"},
	]
}
`)
	require.NoError(t, err)

	phrases := cat.Phrases()
	require.Len(t, phrases, 2)
	assert.True(t, phrases[0].Collection)
	assert.False(t, phrases[1].Collection)
}

func TestCompileCatalog_MissingEntities(t *testing.T) {
	_, err := compileString(t, `catalog: {phrases: []}`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "entities", ce.Field)
}

func TestCompileCatalog_EmptyEntities(t *testing.T) {
	_, err := compileString(t, `catalog: {entities: {}, phrases: []}`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "at least one entity")
}

func TestCompileCatalog_MissingPhrases(t *testing.T) {
	_, err := compileString(t, `catalog: {entities: {tracker: {}}}`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "phrases", ce.Field)
}

func TestCompileCatalog_PhraseMissingToken(t *testing.T) {
	_, err := compileString(t, `
catalog: {
	entities: {tracker: {}}
	phrases: [{entity: "tracker"}]
}
`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "token is required")
}

func TestCompileCatalog_PhraseMissingEntity(t *testing.T) {
	_, err := compileString(t, `
catalog: {
	entities: {tracker: {}}
	phrases: [{token: "tracker"}]
}
`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "entity is required")
}

func TestCompileCatalog_TableValidationSurfaces(t *testing.T) {
	// Shadowed-phrase rejection from New surfaces as a compile error
	_, err := compileString(t, `
catalog: {
	entities: {
		"reporting-effort": {}
		tracker: {parent: "reporting-effort"}
	}
	phrases: [
		{token: "reporting-effort", entity: "reporting-effort"},
		{token: "reporting-effort-tracker", entity: "tracker"},
	]
}
`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "catalog", ce.Field)
	assert.Contains(t, ce.Message, "unreachable")
}

func TestCompileDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.cue"), []byte(validCatalogCUE), 0o644))

	cat, err := CompileDir(dir)
	require.NoError(t, err)
	assert.True(t, cat.Has("tracker"))
}

func TestCompileDir_SplitAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entities.cue"), []byte(`
catalog: entities: {
	tracker: {}
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phrases.cue"), []byte(`
catalog: phrases: [
	{token: "tracker", entity: "tracker"},
]
`), 0o644))

	cat, err := CompileDir(dir)
	require.NoError(t, err)
	assert.True(t, cat.Has("tracker"))
	assert.Len(t, cat.Phrases(), 1)
}

func TestCompileDir_Missing(t *testing.T) {
	_, err := CompileDir("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCompileDir_NoCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	_, err := CompileDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestCompileDir_NoCatalogStruct(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.cue"), []byte(`other: {a: 1}`), 0o644))

	_, err := CompileDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no top-level catalog")
}

func TestCompileError_Error(t *testing.T) {
	e := &CompileError{Field: "entities", Message: "entities is required"}
	assert.Equal(t, "entities: entities is required", e.Error())
}
