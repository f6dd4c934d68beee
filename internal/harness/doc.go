// Package harness runs scripted sync sessions against a real engine.
//
// A scenario is a YAML file describing a session: the UI lifecycle
// hooks the user triggers, the frames the server pushes, and the
// conflict resolutions the user makes, in order. The harness drives the
// engine through the script with a deterministic clock, captures the
// full trace (frames, hooks, strategy decisions, deliveries,
// notifications, conflicts), and evaluates the scenario's assertions
// against it.
//
// Traces are stable across runs, so scenarios can also be pinned as
// golden files (see RunWithGolden). The idle timer never fires on its
// own under the harness; scenarios trigger idle flushes explicitly with
// an idle_flush hook step after advancing the clock.
package harness
