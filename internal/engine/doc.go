// Package engine implements the cross-client CRUD synchronization engine.
//
// The engine takes a stream of remote mutation notifications and
// decides, per connected client, whether, when, and how to apply each
// one to local state, given what the local user is currently doing. It
// reconciles remote authoritative changes, local in-flight edits, and
// local optimistic predictions without a central lock - it must never
// silently destroy unsaved user work and never permanently diverge from
// the authoritative source.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All state mutation (user context, deferred queue, conflict records,
// counters) happens in a single goroutine for deterministic behavior:
// - Predictable strategy resolution order
// - Reproducible decision trace on replay
// - No two logical operations interleave on the same entity key
//
// Processing Flow:
// 1. Inbound frames and UI lifecycle hooks enqueued to FIFO queue
// 2. Engine.Run() dequeues one at a time
// 3. Frames normalize to canonical events (bad frames drop, logged)
// 4. Strategy resolved once per event, applied to all fan-out targets
// 5. Strategy executes: immediate dispatch, deferred queue, or conflict
//
// Deferred updates are re-resolved against the current context at flush
// time, never blindly replayed - a stale queued event is discarded when
// a newer event for the same entity key supersedes it.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All events stamped with a monotonic seq counter from Clock.Next().
// NEVER use wall-clock timestamps for ordering - clock skew would
// reorder counter snapshots and supersession decisions.
//
// One Strategy Per Event:
// The router computes the handling strategy once and delivers the same
// decision to every fan-out recipient, so different views of the same
// change never diverge.
//
// The engine performs no network or storage I/O itself; it only reacts
// to and emits in-process notifications. Transport and presentation are
// injected collaborators.
package engine
