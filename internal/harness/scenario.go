package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted sync session.
type Scenario struct {
	// Name uniquely identifies the scenario. It is also the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Catalog is an optional path to a CUE catalog directory, relative
	// to the scenario file. Empty means the built-in default catalog.
	Catalog string `yaml:"catalog,omitempty"`

	// Steps is the session script, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final engine state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted action. Exactly one of the step kinds (frame,
// hook, resolve, advance, connectivity) must be set.
type Step struct {
	// Frame submits a server frame of the given raw type.
	Frame string `yaml:"frame,omitempty"`
	// Data is the frame body.
	Data map[string]any `yaml:"data,omitempty"`

	// Hook fires a UI lifecycle hook: modal_open, modal_close,
	// field_dirty, interaction, focus_gained, focus_lost, or
	// idle_flush.
	Hook string `yaml:"hook,omitempty"`
	// EntityType and EntityID target modal_open and focus_gained hooks.
	EntityType string `yaml:"entity_type,omitempty"`
	EntityID   string `yaml:"entity_id,omitempty"`
	// Mode is the modal mode for modal_open: create or edit.
	Mode string `yaml:"mode,omitempty"`
	// FieldID names the field for field_dirty hooks.
	FieldID string `yaml:"field_id,omitempty"`

	// Resolve resolves the pending conflict with the given id.
	Resolve string `yaml:"resolve,omitempty"`
	// Outcome is the resolution outcome: keep_local, take_remote, or
	// merged.
	Outcome string `yaml:"outcome,omitempty"`
	// Merged is the merged payload for merged outcomes.
	Merged map[string]any `yaml:"merged,omitempty"`

	// Advance moves the scenario clock forward by a duration ("5s").
	// Advancing past the busy window makes the user idle; an idle_flush
	// hook afterwards models the idle timer firing.
	Advance string `yaml:"advance,omitempty"`

	// Connectivity reports a transport transition: online or offline.
	Connectivity string `yaml:"connectivity,omitempty"`
}

// stepKind returns which step kind is set, or an error when the step is
// ambiguous or empty.
func (s Step) stepKind() (string, error) {
	var kinds []string
	if s.Frame != "" {
		kinds = append(kinds, "frame")
	}
	if s.Hook != "" {
		kinds = append(kinds, "hook")
	}
	if s.Resolve != "" {
		kinds = append(kinds, "resolve")
	}
	if s.Advance != "" {
		kinds = append(kinds, "advance")
	}
	if s.Connectivity != "" {
		kinds = append(kinds, "connectivity")
	}
	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("step sets no action")
	case 1:
		return kinds[0], nil
	default:
		sort.Strings(kinds)
		return "", fmt.Errorf("step sets multiple actions: %v", kinds)
	}
}

// Assertion validates one aspect of the finished session.
type Assertion struct {
	// Type selects the assertion:
	//   - "strategy": the decision at seq resolved with the given
	//     strategy (and phase, when set)
	//   - "applied_order": deliveries reached consumers in this order
	//   - "counter": the entity's counter state matches
	//   - "deferred": the deferred queue holds count entries
	//   - "conflicts": count conflicts remain unresolved
	//   - "notified": count notification-strategy events were surfaced
	Type string `yaml:"type"`

	// Seq, Strategy, Phase drive strategy assertions.
	Seq      int64  `yaml:"seq,omitempty"`
	Strategy string `yaml:"strategy,omitempty"`
	Phase    string `yaml:"phase,omitempty"`

	// Entities lists "entity_type/entity_id" keys for applied_order.
	Entities []string `yaml:"entities,omitempty"`

	// EntityID, Category, Total drive counter assertions. Category
	// empty checks the total; otherwise the category bucket.
	EntityID string `yaml:"entity_id,omitempty"`
	Category string `yaml:"category,omitempty"`
	Total    *int   `yaml:"total,omitempty"`

	// Count drives deferred, conflicts, and notified assertions.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStrategy     = "strategy"
	AssertAppliedOrder = "applied_order"
	AssertCounter      = "counter"
	AssertDeferred     = "deferred"
	AssertConflicts    = "conflicts"
	AssertNotified     = "notified"
)

// LoadScenario reads and validates a scenario YAML file. Unknown fields
// are rejected so typos fail loudly, and a relative catalog path is
// resolved against the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in a directory, sorted by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)

	var scenarios []*Scenario
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	kind, err := s.stepKind()
	if err != nil {
		return err
	}
	switch kind {
	case "hook":
		switch s.Hook {
		case "modal_open":
			if s.EntityType == "" {
				return fmt.Errorf("modal_open requires entity_type")
			}
			if s.Mode != "create" && s.Mode != "edit" {
				return fmt.Errorf("modal_open mode must be create or edit, got %q", s.Mode)
			}
		case "focus_gained":
			if s.EntityType == "" {
				return fmt.Errorf("focus_gained requires entity_type")
			}
		case "field_dirty":
			if s.FieldID == "" {
				return fmt.Errorf("field_dirty requires field_id")
			}
		case "modal_close", "interaction", "focus_lost", "idle_flush":
		default:
			return fmt.Errorf("unknown hook %q", s.Hook)
		}
	case "resolve":
		switch s.Outcome {
		case "keep_local", "take_remote":
		case "merged":
			if len(s.Merged) == 0 {
				return fmt.Errorf("merged outcome requires a merged payload")
			}
		default:
			return fmt.Errorf("unknown outcome %q", s.Outcome)
		}
	case "advance":
		if _, err := time.ParseDuration(s.Advance); err != nil {
			return fmt.Errorf("bad advance duration %q: %w", s.Advance, err)
		}
	case "connectivity":
		if s.Connectivity != "online" && s.Connectivity != "offline" {
			return fmt.Errorf("connectivity must be online or offline, got %q", s.Connectivity)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertStrategy:
		if a.Seq == 0 || a.Strategy == "" {
			return fmt.Errorf("strategy assertion requires seq and strategy")
		}
	case AssertAppliedOrder:
		if len(a.Entities) == 0 {
			return fmt.Errorf("applied_order assertion requires entities")
		}
	case AssertCounter:
		if a.EntityID == "" || a.Total == nil {
			return fmt.Errorf("counter assertion requires entity_id and total")
		}
	case AssertDeferred, AssertConflicts, AssertNotified:
		if a.Count == nil {
			return fmt.Errorf("%s assertion requires count", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
