package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileCatalog parses a CUE value into a Catalog.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the catalog struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`catalog: { entities: {...}, phrases: [...] }`)
//	cat, err := CompileCatalog(v.LookupPath(cue.ParsePath("catalog")))
//
// Expected shape:
//
//	catalog: {
//		entities: {
//			tracker: { parent: "reporting-effort", categories: ["comments"] }
//			"tracker-count": { parent: "tracker", nonVisible: true }
//		}
//		phrases: [
//			{ token: "reporting-effort-tracker", entity: "tracker" },
//			{ token: "studies", entity: "study", collection: true },
//		]
//	}
//
// The phrases list order is preserved exactly - it is the normalizer's
// precedence table. Catalog-level validation (unreachable phrases,
// parent cycles) runs after parsing via New.
func CompileCatalog(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{
			Field:   "entities",
			Message: "entities is required",
			Pos:     v.Pos(),
		}
	}

	entities, err := parseEntities(entitiesVal)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, &CompileError{
			Field:   "entities",
			Message: "at least one entity is required",
			Pos:     entitiesVal.Pos(),
		}
	}

	phrasesVal := v.LookupPath(cue.ParsePath("phrases"))
	if !phrasesVal.Exists() {
		return nil, &CompileError{
			Field:   "phrases",
			Message: "phrases is required",
			Pos:     v.Pos(),
		}
	}

	phrases, err := parsePhrases(phrasesVal)
	if err != nil {
		return nil, err
	}

	cat, err := New(entities, phrases)
	if err != nil {
		return nil, &CompileError{
			Field:   "catalog",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return cat, nil
}

// parseEntities extracts the entity table from the entities struct.
// Entities are returned in sorted name order for deterministic
// validation messages; entity order carries no semantics.
func parseEntities(v cue.Value) ([]Entity, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entities []Entity
	for iter.Next() {
		name := iter.Label()
		ev := iter.Value()

		entity := Entity{Name: name}

		parentVal := ev.LookupPath(cue.ParsePath("parent"))
		if parentVal.Exists() {
			parent, err := parentVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			entity.Parent = parent
		}

		nonVisibleVal := ev.LookupPath(cue.ParsePath("nonVisible"))
		if nonVisibleVal.Exists() {
			nonVisible, err := nonVisibleVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			entity.NonVisible = nonVisible
		}

		categoriesVal := ev.LookupPath(cue.ParsePath("categories"))
		if categoriesVal.Exists() {
			catIter, err := categoriesVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for catIter.Next() {
				category, err := catIter.Value().String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				entity.Categories = append(entity.Categories, category)
			}
		}

		entities = append(entities, entity)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, nil
}

// parsePhrases extracts the ordered phrase precedence list.
// List order is preserved exactly.
func parsePhrases(v cue.Value) ([]Phrase, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var phrases []Phrase
	for iter.Next() {
		pv := iter.Value()

		tokenVal := pv.LookupPath(cue.ParsePath("token"))
		if !tokenVal.Exists() {
			return nil, &CompileError{
				Field:   "phrases",
				Message: "phrase token is required",
				Pos:     pv.Pos(),
			}
		}
		tok, err := tokenVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		entityVal := pv.LookupPath(cue.ParsePath("entity"))
		if !entityVal.Exists() {
			return nil, &CompileError{
				Field:   "phrases",
				Message: fmt.Sprintf("phrase %q: entity is required", tok),
				Pos:     pv.Pos(),
			}
		}
		entity, err := entityVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		phrase := Phrase{Token: tok, Entity: entity}

		collectionVal := pv.LookupPath(cue.ParsePath("collection"))
		if collectionVal.Exists() {
			collection, err := collectionVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			phrase.Collection = collection
		}

		phrases = append(phrases, phrase)
	}

	return phrases, nil
}

// CompileDir loads all CUE files in a directory and compiles the
// catalog value. The directory must contain a top-level "catalog"
// struct after unification.
func CompileDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog directory not found: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("access catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan catalog directory: %w", err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	// Catalog files carry no package clause; Package "_" tells the
	// loader to include such files when loading the directory.
	cfg := &load.Config{Dir: dir, Package: "_"}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", formatCUEError(err))
	}

	catalogVal := value.LookupPath(cue.ParsePath("catalog"))
	if !catalogVal.Exists() {
		return nil, fmt.Errorf("no top-level catalog struct in %s", dir)
	}

	return CompileCatalog(catalogVal)
}

// findCUEFiles returns the .cue files directly inside dir.
func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".cue") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// CompileError reports a catalog compilation failure with CUE position
// information when available.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
