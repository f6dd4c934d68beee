package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file representation of one scenario run.
type TraceSnapshot struct {
	ScenarioName     string       `json:"scenario_name"`
	Trace            []TraceEvent `json:"trace"`
	DeferredLen      int          `json:"deferred_len"`
	PendingConflicts int          `json:"pending_conflicts"`
}

// RunWithGolden executes a scenario, fails the test on any assertion
// error, and compares the trace against testdata/golden/{name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s failed to run: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	snapshot := TraceSnapshot{
		ScenarioName:     scenario.Name,
		Trace:            result.Trace,
		DeferredLen:      result.DeferredLen,
		PendingConflicts: result.PendingConflicts,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		t.Fatalf("marshal trace snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
