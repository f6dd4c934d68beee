package engine

import (
	"sync"

	"github.com/syncline/syncline/internal/event"
)

// CounterState is the derived aggregate counter for one entity id.
//
// LastSeqApplied enforces last-sequence-wins: a counter never regresses
// to an older snapshot that arrives out of order relative to a newer
// one already applied.
type CounterState struct {
	Total          int
	PerCategory    map[string]int
	LastSeqApplied int64
}

// stagedDelta is one provisional local adjustment awaiting its round
// trip.
type stagedDelta struct {
	entityID string
	category string
	delta    int
}

// CounterReconciler maintains derived aggregate counters with
// optimistic local prediction and authoritative reconciliation.
//
// Remote count-bearing events carry absolute snapshot counts, not
// deltas; they apply with last-sequence-wins. Locally-initiated actions
// apply an optimistic delta immediately, tagged provisional by token.
// An authoritative snapshot replaces provisional state (idempotent - no
// double counting); an explicit failure rolls the delta back exactly.
//
// Thread-safety: internally locked. Staging and rollback are called
// from the request layer's goroutines; snapshot application happens in
// the engine loop.
type CounterReconciler struct {
	mu      sync.Mutex
	states  map[string]*CounterState
	pending map[string]stagedDelta
}

// NewCounterReconciler creates an empty reconciler.
func NewCounterReconciler() *CounterReconciler {
	return &CounterReconciler{
		states:  make(map[string]*CounterState),
		pending: make(map[string]stagedDelta),
	}
}

// Observe inspects an applied canonical event and reconciles any
// absolute counts it carries. Collection snapshots reconcile every
// listed entity; delta events reconcile their own entity when the
// payload is count-bearing. Events without counts are ignored.
//
// Snapshot (read) events are never treated as creates - they only ever
// replace counter state, gated by sequence.
func (r *CounterReconciler) Observe(ev event.CanonicalEvent) {
	if ev.Op == event.OpRead && ev.Collection != nil {
		for _, item := range ev.Collection {
			id := event.IDFromPayload(item)
			if id == "" {
				continue
			}
			total, per, ok := countsFromPayload(item)
			if !ok {
				continue
			}
			r.ApplySnapshot(id, ev.Seq, total, per)
		}
		return
	}

	if ev.EntityID == "" {
		return
	}
	total, per, ok := countsFromPayload(ev.Payload)
	if !ok {
		return
	}
	r.ApplySnapshot(ev.EntityID, ev.Seq, total, per)
}

// ApplySnapshot applies an absolute counter snapshot with
// last-sequence-wins. Returns false when the snapshot is stale
// (seq <= LastSeqApplied) and was discarded.
//
// Applying an authoritative snapshot confirms any provisional deltas
// staged for the entity: they are dropped, so the same snapshot applied
// twice yields the same state as applied once.
func (r *CounterReconciler) ApplySnapshot(entityID string, seq int64, total int, perCategory map[string]int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[entityID]
	if ok && seq <= st.LastSeqApplied {
		return false
	}
	if !ok {
		st = &CounterState{}
		r.states[entityID] = st
	}

	st.Total = total
	st.PerCategory = make(map[string]int, len(perCategory))
	for k, v := range perCategory {
		st.PerCategory[k] = v
	}
	st.LastSeqApplied = seq

	// The authoritative snapshot subsumes provisional deltas for this
	// entity - dropping them is what makes confirmation idempotent.
	for token, p := range r.pending {
		if p.entityID == entityID {
			delete(r.pending, token)
		}
	}
	return true
}

// Stage applies an optimistic delta for a locally-initiated action,
// tagged provisional under the given token until confirmed or failed.
func (r *CounterReconciler) Stage(token, entityID, category string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[entityID]
	if !ok {
		st = &CounterState{PerCategory: make(map[string]int)}
		r.states[entityID] = st
	}
	if st.PerCategory == nil {
		st.PerCategory = make(map[string]int)
	}
	st.Total += delta
	if category != "" {
		st.PerCategory[category] += delta
	}
	r.pending[token] = stagedDelta{entityID: entityID, category: category, delta: delta}
}

// Rollback reverses a staged delta exactly (symmetric inverse).
// Returns false when the token is unknown or already confirmed by an
// authoritative snapshot - in that case there is nothing to undo.
func (r *CounterReconciler) Rollback(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[token]
	if !ok {
		return false
	}
	delete(r.pending, token)

	st, ok := r.states[p.entityID]
	if !ok {
		return false
	}
	st.Total -= p.delta
	if p.category != "" {
		st.PerCategory[p.category] -= p.delta
	}
	return true
}

// State returns a copy of the counter state for an entity id.
func (r *CounterReconciler) State(entityID string) (CounterState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[entityID]
	if !ok {
		return CounterState{}, false
	}
	out := CounterState{
		Total:          st.Total,
		LastSeqApplied: st.LastSeqApplied,
		PerCategory:    make(map[string]int, len(st.PerCategory)),
	}
	for k, v := range st.PerCategory {
		out.PerCategory[k] = v
	}
	return out, true
}

// PendingCount returns the number of unconfirmed provisional deltas.
func (r *CounterReconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// countsFromPayload extracts absolute counts from a payload. A payload
// is count-bearing when it carries a numeric "total"; per-category
// counts ride alongside under "counts".
func countsFromPayload(payload map[string]any) (total int, perCategory map[string]int, ok bool) {
	if payload == nil {
		return 0, nil, false
	}
	total, ok = intField(payload, "total")
	if !ok {
		return 0, nil, false
	}
	if raw, exists := payload["counts"]; exists {
		if m, isMap := raw.(map[string]any); isMap {
			perCategory = make(map[string]int, len(m))
			for k, v := range m {
				if n, isNum := toInt(v); isNum {
					perCategory[k] = n
				}
			}
		}
	}
	return total, perCategory, true
}

func intField(payload map[string]any, key string) (int, bool) {
	raw, ok := payload[key]
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
