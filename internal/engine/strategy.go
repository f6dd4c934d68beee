package engine

import (
	"time"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/event"
)

// Strategy is the handling decision for one canonical event.
type Strategy string

const (
	StrategyApplyImmediately      Strategy = "apply_immediately"
	StrategyApplyWithNotification Strategy = "apply_with_notification"
	StrategyQueueForIdle          Strategy = "queue_for_idle"
	StrategyQueueForModalClose    Strategy = "queue_for_modal_close"
	StrategyShowConflict          Strategy = "show_conflict"
)

// DefaultBusyWindow is how long after an interaction the user still
// counts as busy.
const DefaultBusyWindow = 5 * time.Second

// Resolver is the pure decision function (context, event) -> strategy.
//
// Resolve is deterministic: identical inputs always yield the identical
// strategy. It reads the context snapshot, the event, and the static
// catalog - nothing else. The rule priority order below is observable
// behavior; reordering it is a compatibility break.
type Resolver struct {
	cat        *catalog.Catalog
	busyWindow time.Duration
}

// NewResolver creates a resolver over the given catalog.
// A non-positive busyWindow falls back to DefaultBusyWindow.
func NewResolver(cat *catalog.Catalog, busyWindow time.Duration) *Resolver {
	if busyWindow <= 0 {
		busyWindow = DefaultBusyWindow
	}
	return &Resolver{cat: cat, busyWindow: busyWindow}
}

// Resolve evaluates the fixed rule priority order; the first matching
// rule wins:
//
//  1. Direct conflict - an open create/edit modal on exactly the
//     event's entity, and the event is an update.
//  2. Non-visible event - pure counter/badge payloads have no
//     row-level UI impact and apply immediately regardless of user
//     activity, even with an unrelated modal open.
//  3. Modal open and the event's entity unrelated to the modal's -
//     queue until the modal closes.
//  4. Busy and the event related to the active work - queue until idle.
//  5. Busy but unrelated - apply with a notification.
//  6. Default-safe - apply with a notification.
func (r *Resolver) Resolve(sn Snapshot, ev event.CanonicalEvent, now time.Time) Strategy {
	if m := sn.ActiveModal; m != nil &&
		m.EntityType == ev.EntityType && m.EntityID == ev.EntityID &&
		(m.Mode == ModalModeCreate || m.Mode == ModalModeEdit) &&
		ev.Op == event.OpUpdate {
		return StrategyShowConflict
	}

	if r.cat.NonVisible(ev.EntityType) {
		return StrategyApplyImmediately
	}

	if m := sn.ActiveModal; m != nil && !r.cat.Related(ev.EntityType, m.EntityType) {
		return StrategyQueueForModalClose
	}

	if sn.Busy(now, r.busyWindow) {
		if r.relatedToWork(sn, ev) {
			return StrategyQueueForIdle
		}
		return StrategyApplyWithNotification
	}

	return StrategyApplyWithNotification
}

// relatedToWork reports whether the event's entity is related (same
// type, or parent/child per the relationship table) to the entity the
// user is actively working on: the open modal or the focused element.
func (r *Resolver) relatedToWork(sn Snapshot, ev event.CanonicalEvent) bool {
	if m := sn.ActiveModal; m != nil && r.cat.Related(ev.EntityType, m.EntityType) {
		return true
	}
	if f := sn.Focus; f != nil && r.cat.Related(ev.EntityType, f.EntityType) {
		return true
	}
	return false
}

// BusyWindow returns the configured busy window.
func (r *Resolver) BusyWindow() time.Duration {
	return r.busyWindow
}
