package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidTables(t *testing.T) {
	valid := []Entity{
		{Name: "release"},
		{Name: "item", Parent: "release"},
	}

	tests := []struct {
		name     string
		entities []Entity
		phrases  []Phrase
		wantErr  string
	}{
		{
			"empty entity name",
			[]Entity{{Name: ""}},
			nil,
			"empty name",
		},
		{
			"duplicate entity",
			[]Entity{{Name: "item"}, {Name: "item"}},
			nil,
			"duplicate entity",
		},
		{
			"unknown parent",
			[]Entity{{Name: "item", Parent: "ghost"}},
			nil,
			"unknown parent",
		},
		{
			"parent cycle",
			[]Entity{{Name: "a", Parent: "b"}, {Name: "b", Parent: "a"}},
			nil,
			"cycle",
		},
		{
			"self parent",
			[]Entity{{Name: "a", Parent: "a"}},
			nil,
			"cycle",
		},
		{
			"empty phrase token",
			valid,
			[]Phrase{{Token: "", Entity: "item"}},
			"empty token",
		},
		{
			"duplicate phrase token",
			valid,
			[]Phrase{{Token: "item", Entity: "item"}, {Token: "item", Entity: "release"}},
			"duplicate phrase",
		},
		{
			"phrase for unknown entity",
			valid,
			[]Phrase{{Token: "ghost", Entity: "ghost"}},
			"unknown entity",
		},
		{
			"shadowed phrase",
			valid,
			[]Phrase{
				{Token: "release", Entity: "release"},
				{Token: "release-item", Entity: "item"},
			},
			"unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entities, tt.phrases)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_PhraseOrderPreserved(t *testing.T) {
	c, err := New(
		[]Entity{{Name: "release"}, {Name: "item", Parent: "release"}},
		[]Phrase{
			{Token: "release-item", Entity: "item"},
			{Token: "release", Entity: "release"},
			{Token: "item", Entity: "item"},
		},
	)
	require.NoError(t, err)

	phrases := c.Phrases()
	require.Len(t, phrases, 3)
	assert.Equal(t, "release-item", phrases[0].Token)
	assert.Equal(t, "release", phrases[1].Token)
	assert.Equal(t, "item", phrases[2].Token)
}

func TestBoundaryPrefix(t *testing.T) {
	assert.True(t, boundaryPrefix("reporting-effort", "reporting-effort-tracker"))
	assert.False(t, boundaryPrefix("study", "studies"), "prefix must end at a hyphen")
	assert.False(t, boundaryPrefix("tracker", "tracker"))
	assert.False(t, boundaryPrefix("tracker-count", "tracker"))
}

func TestCatalog_Related(t *testing.T) {
	c := Default()

	assert.True(t, c.Related("tracker", "tracker"), "same type is related")
	assert.True(t, c.Related("tracker", "reporting-effort"), "child to parent")
	assert.True(t, c.Related("reporting-effort", "tracker"), "parent to child")
	assert.True(t, c.Related("comment", "tracker"))

	assert.False(t, c.Related("tracker", "database-release"), "grandparent is not related")
	assert.False(t, c.Related("study", "tracker"))
	assert.False(t, c.Related("comment", "reporting-effort"))
}

func TestCatalog_FanOut(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"comment", "tracker", "reporting-effort", "database-release"},
		c.FanOut("comment"))
	assert.Equal(t, []string{"database-release"}, c.FanOut("database-release"))
	assert.Nil(t, c.FanOut("unknown"))
}

func TestCatalog_Lookups(t *testing.T) {
	c := Default()

	e, ok := c.Entity("tracker")
	require.True(t, ok)
	assert.Equal(t, "reporting-effort", e.Parent)
	assert.Equal(t, []string{"comments", "findings"}, e.Categories)

	assert.True(t, c.Has("study"))
	assert.False(t, c.Has("invoice"))
	assert.Equal(t, "tracker", c.Parent("comment"))
	assert.Empty(t, c.Parent("database-release"))

	assert.True(t, c.NonVisible("tracker-count"))
	assert.False(t, c.NonVisible("tracker"))
	assert.False(t, c.NonVisible("unknown"))
}

func TestCatalog_EntityNames(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{
		"comment", "database-release", "reporting-effort",
		"study", "tracker", "tracker-count",
	}, c.EntityNames())
}

func TestDefault_IsValid(t *testing.T) {
	assert.NotPanics(t, func() { Default() })
}
