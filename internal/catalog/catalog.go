package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Entity describes one shared entity type known to the sync engine.
type Entity struct {
	// Name is the canonical entity type name (e.g., "tracker").
	Name string

	// Parent is the structural parent entity type, or "" for root entities.
	// Parent links drive fan-out routing and relatedness checks.
	Parent string

	// NonVisible marks entity types whose events carry pure counter/badge/
	// status payloads with no row-level UI impact. Non-visible events are
	// safe to apply regardless of user activity.
	NonVisible bool

	// Categories lists the per-category counter buckets tracked for this
	// entity type (e.g., "comments", "findings").
	Categories []string
}

// Phrase maps one compound type-token phrase to its entity type.
//
// Inbound frame types are composed of an entity-type phrase plus an
// operation suffix. Some phrases are prefixes of others
// ("reporting-effort-tracker" vs "reporting-effort"), so phrase order is
// a correctness-critical precedence table: longer, more specific phrases
// MUST come before the shorter phrases they extend.
type Phrase struct {
	// Token is the hyphenated phrase as it appears in frame types.
	Token string

	// Entity is the canonical entity type the phrase maps to.
	Entity string

	// Collection marks list-replace phrases ("studies"). Frames matching
	// a collection phrase carry a full snapshot, not a delta, and are
	// normalized to a read operation.
	Collection bool
}

// Catalog holds the static entity tables: the ordered phrase precedence
// list, the entity relationship table, and visibility classes.
//
// A catalog is immutable after construction. All lookups are safe for
// concurrent use.
type Catalog struct {
	entities map[string]Entity
	phrases  []Phrase
}

// New constructs a validated catalog from entity and phrase tables.
//
// The phrases slice order is preserved exactly - it is the precedence
// table used by the normalizer. Validation rejects:
//   - duplicate entity names or phrase tokens
//   - parents that reference unknown entities
//   - cycles in the parent chain
//   - phrases that reference unknown entities
//   - unreachable phrases (a longer phrase listed after a shorter
//     phrase that is its boundary prefix)
func New(entities []Entity, phrases []Phrase) (*Catalog, error) {
	byName := make(map[string]Entity, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity with empty name")
		}
		if _, dup := byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		byName[e.Name] = e
	}

	for _, e := range entities {
		if e.Parent == "" {
			continue
		}
		if _, ok := byName[e.Parent]; !ok {
			return nil, fmt.Errorf("entity %q: unknown parent %q", e.Name, e.Parent)
		}
	}

	// Reject cycles in the parent chain. The chain length is bounded by
	// the entity count, so a longer walk means a loop.
	for _, e := range entities {
		steps := 0
		for p := e.Parent; p != ""; p = byName[p].Parent {
			steps++
			if steps > len(entities) {
				return nil, fmt.Errorf("entity %q: parent chain contains a cycle", e.Name)
			}
		}
	}

	seen := make(map[string]bool, len(phrases))
	for i, p := range phrases {
		if p.Token == "" {
			return nil, fmt.Errorf("phrase %d: empty token", i)
		}
		if seen[p.Token] {
			return nil, fmt.Errorf("duplicate phrase token %q", p.Token)
		}
		seen[p.Token] = true
		if _, ok := byName[p.Entity]; !ok {
			return nil, fmt.Errorf("phrase %q: unknown entity %q", p.Token, p.Entity)
		}

		// An earlier phrase that is a boundary prefix of a later one
		// shadows it - the later phrase could never match.
		for j := i + 1; j < len(phrases); j++ {
			if boundaryPrefix(p.Token, phrases[j].Token) {
				return nil, fmt.Errorf(
					"phrase %q is unreachable: shadowed by earlier prefix %q (more specific phrases must come first)",
					phrases[j].Token, p.Token)
			}
		}
	}

	c := &Catalog{
		entities: byName,
		phrases:  make([]Phrase, len(phrases)),
	}
	copy(c.phrases, phrases)
	return c, nil
}

// boundaryPrefix reports whether short is a strict prefix of long ending
// at a hyphen boundary ("reporting-effort" prefixes
// "reporting-effort-tracker" but "study" does not prefix "studies").
func boundaryPrefix(short, long string) bool {
	if len(short) >= len(long) {
		return false
	}
	return strings.HasPrefix(long, short) && long[len(short)] == '-'
}

// Entity returns the entity definition for a canonical type name.
func (c *Catalog) Entity(name string) (Entity, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Has reports whether the catalog knows the given entity type.
func (c *Catalog) Has(name string) bool {
	_, ok := c.entities[name]
	return ok
}

// Phrases returns the ordered phrase precedence table.
// Callers must not mutate the returned slice.
func (c *Catalog) Phrases() []Phrase {
	return c.phrases
}

// EntityNames returns all entity type names in sorted order.
func (c *Catalog) EntityNames() []string {
	names := make([]string, 0, len(c.entities))
	for name := range c.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parent returns the structural parent of an entity type, or "".
func (c *Catalog) Parent(name string) string {
	return c.entities[name].Parent
}

// Related reports whether two entity types are related: the same type,
// or direct parent/child per the relationship table.
func (c *Catalog) Related(a, b string) bool {
	if a == b {
		return true
	}
	return c.entities[a].Parent == b || c.entities[b].Parent == a
}

// FanOut returns the routing targets for a mutation on the given entity
// type: the entity itself followed by its ancestor chain. Parent views
// aggregate child state, so a child mutation must also reach them.
//
// Returns nil for entity types not in the catalog (no fan-out for
// unknown types).
func (c *Catalog) FanOut(name string) []string {
	if _, ok := c.entities[name]; !ok {
		return nil
	}
	out := []string{name}
	for p := c.entities[name].Parent; p != ""; p = c.entities[p].Parent {
		out = append(out, p)
	}
	return out
}

// NonVisible reports whether events for this entity type carry pure
// counter/badge payloads with no row-level UI impact.
func (c *Catalog) NonVisible(name string) bool {
	return c.entities[name].NonVisible
}

// Default returns the built-in catalog for the clinical data review
// domain: database releases containing reporting efforts, which contain
// trackers, which carry comments and badge counts.
func Default() *Catalog {
	c, err := New(
		[]Entity{
			{Name: "database-release"},
			{Name: "reporting-effort", Parent: "database-release"},
			{Name: "tracker", Parent: "reporting-effort", Categories: []string{"comments", "findings"}},
			{Name: "study", Parent: "database-release"},
			{Name: "comment", Parent: "tracker"},
			{Name: "tracker-count", Parent: "tracker", NonVisible: true},
		},
		[]Phrase{
			{Token: "reporting-effort-tracker", Entity: "tracker"},
			{Token: "reporting-effort", Entity: "reporting-effort"},
			{Token: "database-release", Entity: "database-release"},
			{Token: "tracker-count", Entity: "tracker-count"},
			{Token: "tracker-comment", Entity: "comment"},
			{Token: "tracker", Entity: "tracker"},
			{Token: "studies", Entity: "study", Collection: true},
			{Token: "study", Entity: "study"},
			{Token: "comment", Entity: "comment"},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("default catalog invalid: %v", err))
	}
	return c
}
