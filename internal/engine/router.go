package engine

import (
	"log/slog"
	"sync"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/event"
)

// Consumer receives applied canonical events together with the strategy
// that applied them.
type Consumer func(ev event.CanonicalEvent, st Strategy)

// Router maps entity types to interested consumers and fans mutations
// out along the catalog's parent chain, so that a change to a child
// entity also reaches the consumers of its structural parents (a
// tracker deletion also refreshes the reporting-effort aggregate view).
//
// The strategy is computed once per event by the engine; the router
// delivers that same decision to every fan-out recipient.
//
// Thread-safety: registration may happen from any goroutine; dispatch
// happens only from the engine loop.
type Router struct {
	mu        sync.Mutex
	cat       *catalog.Catalog
	consumers map[string][]Consumer
	fallback  Consumer
}

// NewRouter creates a router over the given catalog. Events with no
// matching consumer go to a log-only fallback.
func NewRouter(cat *catalog.Catalog) *Router {
	return &Router{
		cat:       cat,
		consumers: make(map[string][]Consumer),
		fallback: func(ev event.CanonicalEvent, st Strategy) {
			slog.Debug("event with no registered consumer",
				"entity_type", ev.EntityType,
				"entity_id", ev.EntityID,
				"op", ev.Op,
				"strategy", st,
			)
		},
	}
}

// Register adds a consumer for an entity type. Multiple consumers per
// type are delivered in registration order.
func (r *Router) Register(entityType string, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[entityType] = append(r.consumers[entityType], c)
}

// SetFallback replaces the default log-only consumer for events that
// match nothing.
func (r *Router) SetFallback(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// Dispatch delivers an event to the consumers of its entity type and of
// every structural ancestor. Unknown entity types go to the fallback
// with no fan-out attempted.
func (r *Router) Dispatch(ev event.CanonicalEvent, st Strategy) {
	r.mu.Lock()
	targets := r.cat.FanOut(ev.EntityType)
	var queue []Consumer
	for _, t := range targets {
		queue = append(queue, r.consumers[t]...)
	}
	fallback := r.fallback
	r.mu.Unlock()

	if targets == nil || len(queue) == 0 {
		fallback(ev, st)
		return
	}
	for _, c := range queue {
		c(ev, st)
	}
}
