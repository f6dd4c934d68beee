package harness

import "fmt"

// evaluate checks one assertion against the finished session and adds
// failures to the result.
func (h *Harness) evaluate(a Assertion, result *Result) {
	switch a.Type {
	case AssertStrategy:
		h.evaluateStrategy(a, result)
	case AssertAppliedOrder:
		h.evaluateAppliedOrder(a, result)
	case AssertCounter:
		h.evaluateCounter(a, result)
	case AssertDeferred:
		if result.DeferredLen != *a.Count {
			result.addError("deferred: want %d queued updates, got %d", *a.Count, result.DeferredLen)
		}
	case AssertConflicts:
		if result.PendingConflicts != *a.Count {
			result.addError("conflicts: want %d pending, got %d", *a.Count, result.PendingConflicts)
		}
	case AssertNotified:
		got := 0
		for _, ev := range result.Trace {
			if ev.Kind == "notify" {
				got++
			}
		}
		if got != *a.Count {
			result.addError("notified: want %d notifications, got %d", *a.Count, got)
		}
	default:
		result.addError("unknown assertion type %q", a.Type)
	}
}

// evaluateStrategy checks the decision recorded for a sequence number.
// When the same event is decided in several phases (deferred, then
// flushed), the phase field selects which decision; without it the last
// decision for the seq wins.
func (h *Harness) evaluateStrategy(a Assertion, result *Result) {
	var found *TraceEvent
	for i := range result.Trace {
		ev := &result.Trace[i]
		if ev.Kind != "decision" || ev.Seq != a.Seq {
			continue
		}
		if a.Phase != "" && ev.Phase != a.Phase {
			continue
		}
		found = ev
	}
	if found == nil {
		result.addError("strategy: no decision recorded for seq %d", a.Seq)
		return
	}
	if found.Strategy != a.Strategy {
		result.addError("strategy: seq %d resolved %s, want %s", a.Seq, found.Strategy, a.Strategy)
	}
}

// evaluateAppliedOrder checks the order in which events reached their
// own entity type's consumer. Fan-out deliveries to ancestor consumers
// are ignored so each applied event counts once.
func (h *Harness) evaluateAppliedOrder(a Assertion, result *Result) {
	var got []string
	for _, ev := range result.Trace {
		if ev.Kind == "deliver" && ev.Consumer == ev.EntityType {
			got = append(got, fmt.Sprintf("%s/%s", ev.EntityType, ev.EntityID))
		}
	}
	if len(got) != len(a.Entities) {
		result.addError("applied_order: want %d applied events %v, got %d %v",
			len(a.Entities), a.Entities, len(got), got)
		return
	}
	for i := range got {
		if got[i] != a.Entities[i] {
			result.addError("applied_order: position %d is %s, want %s", i, got[i], a.Entities[i])
			return
		}
	}
}

func (h *Harness) evaluateCounter(a Assertion, result *Result) {
	st, ok := h.eng.CounterState(a.EntityID)
	if !ok {
		result.addError("counter: no counter state for %s", a.EntityID)
		return
	}
	if a.Category == "" {
		if st.Total != *a.Total {
			result.addError("counter: %s total is %d, want %d", a.EntityID, st.Total, *a.Total)
		}
		return
	}
	if got := st.PerCategory[a.Category]; got != *a.Total {
		result.addError("counter: %s %s is %d, want %d", a.EntityID, a.Category, got, *a.Total)
	}
}
