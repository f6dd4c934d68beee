package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/event"
)

// DefaultIdleThreshold is how long after the last interaction the idle
// timer fires and the deferred queue is flushed.
const DefaultIdleThreshold = 2 * time.Second

// Notifier surfaces applied remote changes and optimistic-action
// failures to the presentation collaborator.
type Notifier interface {
	// Notify announces a remote change applied with
	// StrategyApplyWithNotification.
	Notify(ev event.CanonicalEvent)

	// ReportError surfaces a failed local optimistic action. The engine
	// does not retry - retry policy belongs to the request layer.
	ReportError(err error)
}

// ConflictDecider is supplied by the presentation collaborator. Decide
// is invoked with a pending conflict record; the collaborator owns the
// resolution UI and must eventually call Engine.ResolveConflict with
// exactly one outcome.
type ConflictDecider interface {
	Decide(rec ConflictRecord)
}

// SnapshotRequester asks the authoritative store to re-send snapshot
// refreshes after a reconnect. The engine cannot reconstruct missed
// deltas itself; it re-requests full snapshots instead.
type SnapshotRequester interface {
	RequestSnapshots()
}

// Engine is the single-writer synchronization engine event loop.
//
// CRITICAL: All mutation of shared state (user context, deferred queue,
// conflict records) happens in the single Run loop goroutine. External
// callers submit work through the enqueue methods (HandleFrame, the UI
// hooks, ResolveConflict, ConnectivityChanged).
//
// Thread-safety model:
//   - enqueue methods: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - StageOptimistic/FailOptimistic/CounterState: safe from any
//     goroutine (the counter reconciler locks internally)
//
// Lifecycle: constructed once at session start with injected
// collaborators; Stop() tears it down and clears timers.
type Engine struct {
	cat       *catalog.Catalog
	clock     *Clock
	norm      *event.Normalizer
	queue     *loopQueue
	router    *Router
	tracker   *Tracker
	resolver  *Resolver
	deferred  *deferredQueue
	conflicts *conflictHandler
	counters  *CounterReconciler

	notifier  Notifier
	decider   ConflictDecider
	snapshots SnapshotRequester
	recorder  Recorder
	ids       TokenGenerator

	idleThreshold time.Duration
	now           func() time.Time

	timerMu   sync.Mutex
	idleTimer *time.Timer

	online bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier injects the presentation notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithDecider injects the conflict decision callback.
func WithDecider(d ConflictDecider) Option {
	return func(e *Engine) { e.decider = d }
}

// WithSnapshotRequester injects the reconnect snapshot re-request hook.
func WithSnapshotRequester(s SnapshotRequester) Option {
	return func(e *Engine) { e.snapshots = s }
}

// WithRecorder injects a decision recorder (e.g., the session journal).
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTokens overrides the token generator (for deterministic tests).
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock overrides the logical clock. Used by replay to resume past
// a journaled session's last sequence number.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithBusyWindow sets the busy window consulted by the resolver.
func WithBusyWindow(d time.Duration) Option {
	return func(e *Engine) { e.resolver = NewResolver(e.cat, d) }
}

// WithIdleThreshold sets the idle timer threshold.
func WithIdleThreshold(d time.Duration) Option {
	return func(e *Engine) { e.idleThreshold = d }
}

// WithNow overrides the wall-clock source (for tests). Wall-clock time
// is informational only - ordering always uses the logical clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// nopNotifier drops notifications; used when no presentation notifier
// is wired in.
type nopNotifier struct{}

func (nopNotifier) Notify(ev event.CanonicalEvent) {
	slog.Debug("notification with no notifier registered",
		"entity_type", ev.EntityType, "entity_id", ev.EntityID, "op", ev.Op)
}

func (nopNotifier) ReportError(err error) {
	slog.Warn("optimistic action failed with no notifier registered", "error", err)
}

// nopDecider leaves conflicts pending; used when no decider is wired
// in. Events for the conflicted key stay queued until a real resolution
// arrives.
type nopDecider struct{}

func (nopDecider) Decide(rec ConflictRecord) {
	slog.Warn("conflict detected with no decider registered; key remains blocked",
		"conflict_id", rec.ID,
		"entity_type", rec.Event.EntityType,
		"entity_id", rec.Event.EntityID,
	)
}

// nopSnapshots ignores snapshot re-requests.
type nopSnapshots struct{}

func (nopSnapshots) RequestSnapshots() {
	slog.Debug("snapshot refresh requested with no requester registered")
}

// New creates an Engine over the given entity catalog.
//
// The engine is an explicit, constructed object with injected
// collaborators - no ambient globals. Construct once per session.
func New(cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		cat:           cat,
		clock:         NewClock(),
		queue:         newLoopQueue(),
		router:        NewRouter(cat),
		tracker:       NewTracker(),
		deferred:      newDeferredQueue(),
		counters:      NewCounterReconciler(),
		notifier:      nopNotifier{},
		decider:       nopDecider{},
		snapshots:     nopSnapshots{},
		recorder:      NopRecorder{},
		ids:           UUIDv7Generator{},
		idleThreshold: DefaultIdleThreshold,
		now:           time.Now,
	}
	e.resolver = NewResolver(cat, DefaultBusyWindow)

	for _, opt := range opts {
		opt(e)
	}

	e.norm = event.NewNormalizer(cat, e.clock, event.WithNow(func() time.Time { return e.now() }))
	e.conflicts = newConflictHandler()
	return e
}

// RegisterConsumer registers a consumer for an entity type. The
// callback receives each applied event together with the strategy that
// applied it.
func (e *Engine) RegisterConsumer(entityType string, c Consumer) {
	e.router.Register(entityType, c)
}

// SetFallbackConsumer replaces the default log-only consumer for events
// that match no registration.
func (e *Engine) SetFallbackConsumer(c Consumer) {
	e.router.SetFallback(c)
}

// HandleFrame submits a raw inbound frame for processing.
// Thread-safe: may be called from any goroutine (the transport's read
// pump). Returns false if the engine has been stopped.
func (e *Engine) HandleFrame(f event.Frame) bool {
	frame := f
	return e.queue.Enqueue(loopEvent{kind: loopFrame, frame: &frame})
}

// ModalOpened records that the presentation layer opened a create/edit
// modal for an entity.
func (e *Engine) ModalOpened(entityType, entityID string, mode ModalMode) bool {
	return e.enqueueHook(hookEvent{
		Kind:  HookModalOpen,
		Modal: &ModalRef{EntityType: entityType, EntityID: entityID, Mode: mode},
	})
}

// ModalClosed records that the active modal closed (or the user
// navigated away). Clears the active modal and triggers a
// deferred-queue flush attempt.
func (e *Engine) ModalClosed() bool {
	return e.enqueueHook(hookEvent{Kind: HookModalClose})
}

// FieldDirtied records an unsaved edit to a form field.
func (e *Engine) FieldDirtied(fieldID string) bool {
	return e.enqueueHook(hookEvent{Kind: HookFieldDirty, FieldID: fieldID})
}

// Interacted records a generic user interaction and resets the idle
// timer.
func (e *Engine) Interacted() bool {
	return e.enqueueHook(hookEvent{Kind: HookInteraction})
}

// FocusGained records that a form element bound to an entity took focus.
func (e *Engine) FocusGained(entityType, entityID string) bool {
	return e.enqueueHook(hookEvent{
		Kind:  HookFocusGained,
		Focus: &EntityRef{EntityType: entityType, EntityID: entityID},
	})
}

// FocusLost records that the focused form element was blurred.
func (e *Engine) FocusLost() bool {
	return e.enqueueHook(hookEvent{Kind: HookFocusLost})
}

func (e *Engine) enqueueHook(h hookEvent) bool {
	hook := h
	return e.queue.Enqueue(loopEvent{kind: loopHook, hook: &hook})
}

// ResolveConflict submits the resolution decision for a pending
// conflict. merged is consulted only for OutcomeMerged.
func (e *Engine) ResolveConflict(id string, outcome Outcome, merged map[string]any) bool {
	return e.queue.Enqueue(loopEvent{kind: loopResolution, resolution: &resolutionEvent{
		ConflictID: id,
		Outcome:    outcome,
		Merged:     merged,
	}})
}

// ConnectivityChanged signals a transport connect or disconnect. On
// transition to online the engine asks the snapshot requester to
// re-send snapshot refreshes it may have missed.
func (e *Engine) ConnectivityChanged(online bool) bool {
	return e.queue.Enqueue(loopEvent{kind: loopConnectivity, online: online})
}

// FlushIdle submits an idle-flush evaluation. Called by the idle timer;
// exposed so tests and scenario harnesses can drive idleness
// deterministically.
func (e *Engine) FlushIdle() bool {
	return e.queue.Enqueue(loopEvent{kind: loopIdleFlush})
}

// StageOptimistic applies an optimistic counter delta for a
// locally-initiated action before its round trip completes. Returns the
// provisional token; the request layer passes it to FailOptimistic if
// the action fails. Confirmation needs no call - the authoritative
// count arrives back through the normal inbound-frame path.
//
// Thread-safe: may be called from any goroutine.
func (e *Engine) StageOptimistic(entityID, category string, delta int) string {
	token := e.ids.Generate()
	e.counters.Stage(token, entityID, category, delta)
	slog.Debug("optimistic delta staged",
		"token", token, "entity_id", entityID, "category", category, "delta", delta)
	return token
}

// FailOptimistic rolls back a staged optimistic delta exactly and
// surfaces the failure to the presentation collaborator. Returns an
// unknown-token error when the delta is not pending (already confirmed
// or never staged).
func (e *Engine) FailOptimistic(token string, cause error) error {
	if !e.counters.Rollback(token) {
		return newUnknownTokenError(token)
	}
	slog.Info("optimistic delta rolled back", "token", token, "cause", cause)
	e.notifier.ReportError(fmt.Errorf("local action failed, change undone: %w", cause))
	return nil
}

// CounterState returns a copy of the derived counter state for an
// entity id. Thread-safe.
func (e *Engine) CounterState(entityID string) (CounterState, bool) {
	return e.counters.State(entityID)
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the current number of pending loop events.
// Useful for monitoring and testing.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// DeferredLen returns the number of buffered deferred updates.
// CRITICAL: read from the loop goroutine (or a quiesced engine) only.
func (e *Engine) DeferredLen() int {
	return e.deferred.Len()
}

// PendingConflicts returns the number of unresolved conflict records.
// CRITICAL: read from the loop goroutine (or a quiesced engine) only.
func (e *Engine) PendingConflicts() int {
	return e.conflicts.PendingCount()
}

// Context returns a read-only snapshot of the current user context.
// CRITICAL: read from the loop goroutine (or a quiesced engine) only.
func (e *Engine) Context() Snapshot {
	return e.tracker.Snapshot()
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine. All strategy
// resolution, context mutation, and dispatch happen in this goroutine
// for deterministic behavior.
//
// ERROR HANDLING: On event processing failure, the error is logged with
// full event context and processing continues. A single bad frame must
// not stop the stream, and "log and continue" keeps replay
// deterministic - retries would not.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("sync engine starting")

	for {
		le, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(le); err != nil {
				logLoopError(le, err)
			}
			continue
		}

		// No event ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopping: context cancelled")
			e.teardown()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately
			if e.queue.Len() == 0 {
				slog.Info("sync engine stopping: queue closed")
				e.stopIdleTimer()
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine: the idle timer is cleared and
// the loop drains remaining events before Run returns.
func (e *Engine) Stop() {
	e.teardown()
}

// ProcessPending drains and processes every queued loop event on the
// caller's goroutine, with the same log-and-continue error handling as
// Run. Returns the number of events processed.
//
// Intended for replay and scenario harnesses that drive the engine
// deterministically instead of running the loop goroutine. Must not be
// called concurrently with Run.
func (e *Engine) ProcessPending() int {
	n := 0
	for {
		le, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		if err := e.process(le); err != nil {
			logLoopError(le, err)
		}
		n++
	}
}

func (e *Engine) teardown() {
	e.stopIdleTimer()
	e.queue.Close()
}

// process routes one loop event to its handler.
// CRITICAL: Called only from the Run goroutine - single-writer guarantee.
func (e *Engine) process(le loopEvent) error {
	switch le.kind {
	case loopFrame:
		if le.frame == nil {
			return fmt.Errorf("frame event missing frame data")
		}
		return e.processFrame(*le.frame)

	case loopHook:
		if le.hook == nil {
			return fmt.Errorf("hook event missing hook data")
		}
		return e.processHook(*le.hook)

	case loopResolution:
		if le.resolution == nil {
			return fmt.Errorf("resolution event missing resolution data")
		}
		return e.processResolution(*le.resolution)

	case loopIdleFlush:
		e.processIdleFlush()
		return nil

	case loopConnectivity:
		e.processConnectivity(le.online)
		return nil

	default:
		return fmt.Errorf("unknown loop event kind: %d", le.kind)
	}
}

// processFrame normalizes an inbound frame and executes its strategy.
// Malformed frames are dropped and logged, never returned as errors - a
// drop is normal stream behavior, not a loop failure.
func (e *Engine) processFrame(f event.Frame) error {
	ev, err := e.norm.Normalize(f)
	if err != nil {
		slog.Warn("frame dropped", "type", f.Type, "error", err)
		return nil
	}

	e.recorder.RecordFrame(ev.Seq, f)
	e.route(ev, PhaseInitial)
	return nil
}

// route computes the handling strategy for a canonical event and
// executes it. Shared by initial arrival and flush-time re-resolution.
func (e *Engine) route(ev event.CanonicalEvent, phase DecisionPhase) {
	now := e.now()

	// Events for a key with an unresolved conflict queue behind it,
	// equivalent to waiting on a modal close.
	if e.conflicts.Pending(ev.Key()) {
		e.deferUpdate(ev, ReasonModalOpen, StrategyQueueForModalClose, phase, now)
		return
	}

	sn := e.tracker.Snapshot()
	st := e.resolver.Resolve(sn, ev, now)

	switch st {
	case StrategyQueueForIdle:
		e.deferUpdate(ev, ReasonUserActive, st, phase, now)

	case StrategyQueueForModalClose:
		e.deferUpdate(ev, ReasonModalOpen, st, phase, now)

	case StrategyShowConflict:
		rec := e.conflicts.Open(ev, sn, now)
		e.record(ev, st, phase, "")
		slog.Info("conflict detected",
			"conflict_id", rec.ID,
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"seq", ev.Seq,
		)
		e.decider.Decide(rec)

	default:
		e.apply(ev, st, phase)
	}
}

// deferUpdate queues an update with supersession and records the decision.
func (e *Engine) deferUpdate(ev event.CanonicalEvent, reason Reason, st Strategy, phase DecisionPhase, now time.Time) {
	switch e.deferred.Add(ev, reason, now) {
	case addStale:
		// A newer event for this key is already queued; the stale one
		// is silently dropped, never applied after the newer one.
		slog.Debug("stale update dropped by supersession",
			"entity_type", ev.EntityType, "entity_id", ev.EntityID, "seq", ev.Seq)
		return
	case addSuperseded:
		slog.Debug("queued update superseded",
			"entity_type", ev.EntityType, "entity_id", ev.EntityID, "seq", ev.Seq)
	}
	e.record(ev, st, phase, "")
}

// apply dispatches an event to its fan-out consumers, reconciles any
// counts it carries, and notifies when the strategy calls for it.
func (e *Engine) apply(ev event.CanonicalEvent, st Strategy, phase DecisionPhase) {
	e.router.Dispatch(ev, st)
	e.counters.Observe(ev)
	if st == StrategyApplyWithNotification {
		e.notifier.Notify(ev)
	}
	e.record(ev, st, phase, "")
}

func (e *Engine) record(ev event.CanonicalEvent, st Strategy, phase DecisionPhase, outcome Outcome) {
	e.recorder.RecordDecision(Decision{
		Seq:        ev.Seq,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Op:         ev.Op,
		Strategy:   st,
		Phase:      phase,
		Outcome:    outcome,
	})
	slog.Debug("strategy decided",
		"seq", ev.Seq,
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"op", ev.Op,
		"strategy", st,
		"phase", phase,
	)
}

// processHook applies a UI lifecycle hook to the user context. Every
// hook counts as an interaction and resets the idle timer; a modal
// close additionally triggers a deferred-queue flush attempt.
func (e *Engine) processHook(h hookEvent) error {
	seq := e.clock.Next()
	e.recorder.RecordHook(seq, h.Kind, hookDetail(h))
	now := e.now()

	switch h.Kind {
	case HookModalOpen:
		if h.Modal == nil {
			return fmt.Errorf("modal open hook missing modal ref")
		}
		e.tracker.ModalOpened(*h.Modal, now)

	case HookModalClose:
		e.tracker.ModalClosed(now)
		e.flushDeferred("modal_close")

	case HookFieldDirty:
		e.tracker.FieldDirtied(h.FieldID, now)

	case HookInteraction:
		e.tracker.Interacted(now)

	case HookFocusGained:
		if h.Focus == nil {
			return fmt.Errorf("focus hook missing entity ref")
		}
		e.tracker.FocusGained(*h.Focus, now)

	case HookFocusLost:
		e.tracker.FocusLost(now)

	default:
		return fmt.Errorf("unknown hook kind: %s", h.Kind)
	}

	e.resetIdleTimer()
	return nil
}

// hookDetail builds the replayable journal detail for a hook.
func hookDetail(h hookEvent) map[string]any {
	switch h.Kind {
	case HookModalOpen:
		if h.Modal == nil {
			return nil
		}
		return map[string]any{
			"entity_type": h.Modal.EntityType,
			"entity_id":   h.Modal.EntityID,
			"mode":        string(h.Modal.Mode),
		}
	case HookFieldDirty:
		return map[string]any{"field_id": h.FieldID}
	case HookFocusGained:
		if h.Focus == nil {
			return nil
		}
		return map[string]any{
			"entity_type": h.Focus.EntityType,
			"entity_id":   h.Focus.EntityID,
		}
	default:
		return nil
	}
}

// processResolution resolves a pending conflict and applies the chosen
// outcome, then attempts a flush so same-key events queued behind the
// conflict can proceed.
func (e *Engine) processResolution(r resolutionEvent) error {
	seq := e.clock.Next()
	e.recorder.RecordResolution(seq, r.ConflictID, r.Outcome, r.Merged)

	rec, err := e.conflicts.Resolve(r.ConflictID, r.Outcome)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}

	switch r.Outcome {
	case OutcomeKeepLocal:
		// The remote event is discarded entirely. Remote state stays
		// un-applied client-side until the user's own save cycle
		// produces a fresh authoritative event.
		slog.Info("conflict resolved: local edit kept",
			"conflict_id", rec.ID, "seq", rec.Event.Seq)

	case OutcomeTakeRemote:
		slog.Info("conflict resolved: remote applied",
			"conflict_id", rec.ID, "seq", rec.Event.Seq)
		e.router.Dispatch(rec.Event, StrategyApplyImmediately)
		e.counters.Observe(rec.Event)

	case OutcomeMerged:
		slog.Info("conflict resolved: merged payload applied",
			"conflict_id", rec.ID, "seq", rec.Event.Seq)
		merged := rec.Event.WithPayload(r.Merged)
		merged.Op = event.OpUpdate
		e.router.Dispatch(merged, StrategyApplyImmediately)
		e.counters.Observe(merged)

	default:
		return fmt.Errorf("unknown conflict outcome: %q", r.Outcome)
	}

	e.record(rec.Event, StrategyShowConflict, PhaseResolution, r.Outcome)
	e.flushDeferred("conflict_resolved")
	return nil
}

// processIdleFlush flushes the deferred queue when the idle timer fires
// with no active modal. With a modal open the flush waits for the
// modal-close hook instead.
func (e *Engine) processIdleFlush() {
	seq := e.clock.Next()
	e.recorder.RecordHook(seq, HookIdleFlush, nil)

	if e.tracker.Snapshot().ActiveModal != nil {
		slog.Debug("idle flush skipped: modal open")
		return
	}
	e.flushDeferred("idle")
}

// flushDeferred drains the deferred queue and re-resolves every item
// against the current context. An item queued for idle may resolve to a
// conflict at flush time if the user started editing that entity in the
// interim; items whose strategy still defers them re-queue.
func (e *Engine) flushDeferred(trigger string) {
	items := e.deferred.Drain()
	if len(items) == 0 {
		return
	}
	slog.Debug("flushing deferred updates", "trigger", trigger, "count", len(items))

	for _, item := range items {
		e.route(item.Event, PhaseFlush)
	}

	// Items that re-queued (still busy, or blocked on a conflict) need
	// a future flush even if the user never interacts again.
	if e.deferred.Len() > 0 {
		e.resetIdleTimer()
	}
}

// processConnectivity reacts to transport connect/disconnect. The
// engine does not manage reconnection; it only re-requests snapshot
// refreshes it may have missed while offline.
func (e *Engine) processConnectivity(online bool) {
	wasOnline := e.online
	e.online = online
	slog.Info("connectivity changed", "online", online)

	if online && !wasOnline {
		e.snapshots.RequestSnapshots()
	}
}

// resetIdleTimer cancels and reschedules the idle-flush timer. The
// timer is reset on every interaction and never left dangling: Stop()
// clears it.
func (e *Engine) resetIdleTimer() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.idleThreshold, func() {
		e.FlushIdle()
	})
}

func (e *Engine) stopIdleTimer() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

// logLoopError logs a loop event processing failure with full context.
func logLoopError(le loopEvent, err error) {
	switch le.kind {
	case loopFrame:
		if le.frame != nil {
			slog.Error("frame processing failed", "error", err, "type", le.frame.Type)
		} else {
			slog.Error("frame processing failed", "error", err, "note", "frame data was nil")
		}

	case loopHook:
		if le.hook != nil {
			slog.Error("hook processing failed", "error", err, "kind", le.hook.Kind)
		} else {
			slog.Error("hook processing failed", "error", err, "note", "hook data was nil")
		}

	case loopResolution:
		if le.resolution != nil {
			slog.Error("conflict resolution failed",
				"error", err,
				"conflict_id", le.resolution.ConflictID,
				"outcome", le.resolution.Outcome,
			)
		} else {
			slog.Error("conflict resolution failed", "error", err, "note", "resolution data was nil")
		}

	default:
		slog.Error("loop event processing failed", "error", err, "kind", le.kind)
	}
}
