package engine

import (
	"sort"
	"time"
)

// HookKind names the UI lifecycle hooks raised by the presentation
// collaborator.
type HookKind string

const (
	HookModalOpen   HookKind = "modal_open"
	HookModalClose  HookKind = "modal_close"
	HookFieldDirty  HookKind = "field_dirty"
	HookInteraction HookKind = "interaction"
	HookFocusGained HookKind = "focus_gained"
	HookFocusLost   HookKind = "focus_lost"

	// HookIdleFlush is synthetic: the engine records it when the idle
	// timer fires, so a journaled session replays timer-driven flushes
	// at the same point in the input order.
	HookIdleFlush HookKind = "idle_flush"
)

// ModalMode is the editing mode of an open modal.
type ModalMode string

const (
	ModalModeCreate ModalMode = "create"
	ModalModeEdit   ModalMode = "edit"
)

// ModalRef identifies the entity an open modal is editing.
type ModalRef struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Mode       ModalMode `json:"mode"`
}

// EntityRef identifies the entity behind a focused form element.
type EntityRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Snapshot is a read-only view of the user context, handed to the
// strategy resolver. The tracker owns the live state; a snapshot never
// changes after it is taken.
type Snapshot struct {
	ActiveModal       *ModalRef
	Focus             *EntityRef
	DirtyFields       []string
	LastInteractionAt time.Time
}

// Busy reports whether the user is actively working: a modal is open, a
// form element holds focus, or an interaction occurred within the busy
// window.
func (s Snapshot) Busy(now time.Time, window time.Duration) bool {
	if s.ActiveModal != nil || s.Focus != nil {
		return true
	}
	return !s.LastInteractionAt.IsZero() && now.Sub(s.LastInteractionAt) < window
}

// Tracker models what the local user is doing right now.
//
// State is mutated only through the hook methods below, and only from
// the engine's single-writer loop - the tracker itself holds no lock.
// The resolver and conflict handler read state through Snapshot().
type Tracker struct {
	modal           *ModalRef
	focus           *EntityRef
	dirty           map[string]struct{}
	lastInteraction time.Time
}

// NewTracker creates a tracker with no active modal and no focus.
func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[string]struct{})}
}

// ModalOpened records an opened modal. Opening a modal is itself an
// interaction.
func (t *Tracker) ModalOpened(ref ModalRef, now time.Time) {
	m := ref
	t.modal = &m
	t.lastInteraction = now
}

// ModalClosed clears the active modal and all dirty fields. Closing a
// modal is itself an interaction.
//
// Callers (the engine) must follow this with a deferred-queue flush
// attempt - failing to do so leaves queued updates stuck.
func (t *Tracker) ModalClosed(now time.Time) {
	t.modal = nil
	t.dirty = make(map[string]struct{})
	t.lastInteraction = now
}

// FieldDirtied records an unsaved edit to a form field.
func (t *Tracker) FieldDirtied(fieldID string, now time.Time) {
	t.dirty[fieldID] = struct{}{}
	t.lastInteraction = now
}

// Interacted records a generic user interaction (click, scroll, keypress).
func (t *Tracker) Interacted(now time.Time) {
	t.lastInteraction = now
}

// FocusGained records that a form element bound to an entity took focus.
func (t *Tracker) FocusGained(ref EntityRef, now time.Time) {
	f := ref
	t.focus = &f
	t.lastInteraction = now
}

// FocusLost clears the focused element.
func (t *Tracker) FocusLost(now time.Time) {
	t.focus = nil
	t.lastInteraction = now
}

// Snapshot returns a read-only copy of the current context.
// Dirty field ids are sorted for deterministic traces.
func (t *Tracker) Snapshot() Snapshot {
	sn := Snapshot{LastInteractionAt: t.lastInteraction}
	if t.modal != nil {
		m := *t.modal
		sn.ActiveModal = &m
	}
	if t.focus != nil {
		f := *t.focus
		sn.Focus = &f
	}
	if len(t.dirty) > 0 {
		sn.DirtyFields = make([]string, 0, len(t.dirty))
		for id := range t.dirty {
			sn.DirtyFields = append(sn.DirtyFields, id)
		}
		sort.Strings(sn.DirtyFields)
	}
	return sn
}
