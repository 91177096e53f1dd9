package kissio

import (
	"sync"
	"sync/atomic"
)

// Handler is one step of a route chain. It must eventually call ctx.Next,
// from any goroutine, to pass control to the following handler.
type Handler func(ctx *Context, args ...any)

// Context is handed to every handler of a triggered route.
type Context struct {
	Namespace *Namespace
	Socket    *Socket
	Event     string

	next func(error)
}

// Next advances the chain. A non-nil err aborts it and is reported to the
// socket's error channel. Only the first call has an effect.
func (c *Context) Next(err error) {
	c.next(err)
}

// Route binds an event name to an ordered list of handlers.
type Route struct {
	mu     sync.RWMutex
	event  string
	steps  []step
	params []string
	emits  []string
	once   bool
}

// step is a handler of a route. A once step is dropped from the route the
// first time the route is triggered.
type step struct {
	fn   Handler
	once bool
}

func steps(handlers []Handler, once bool) []step {
	out := make([]step, len(handlers))
	for i, h := range handlers {
		out[i] = step{fn: h, once: once}
	}
	return out
}

func newRoute(event string) *Route {
	return &Route{event: event}
}

// Event returns the event name.
func (r *Route) Event() string {
	return r.event
}

// Use appends handlers to the route.
func (r *Route) Use(handlers ...Handler) *Route {
	r.append(steps(handlers, false))
	return r
}

func (r *Route) append(s []step) {
	r.mu.Lock()
	r.steps = append(r.steps, s...)
	r.mu.Unlock()
}

// Expects records the parameter names handlers expect. Advisory only.
func (r *Route) Expects(params ...string) *Route {
	r.mu.Lock()
	r.params = append(r.params, params...)
	r.mu.Unlock()
	return r
}

// Emits records the events handlers may emit in response. Advisory only.
func (r *Route) Emits(events ...string) *Route {
	r.mu.Lock()
	r.emits = append(r.emits, events...)
	r.mu.Unlock()
	return r
}

// Params returns the advisory parameter names.
func (r *Route) Params() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.params...)
}

// Emitted returns the advisory emitted event names.
func (r *Route) Emitted() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.emits...)
}

// Once reports whether the route deregisters itself after one trigger.
func (r *Route) Once() bool {
	return r.once
}

// Len returns the number of handlers.
func (r *Route) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// take returns the handlers to run for one trigger and drops the once
// steps from the route.
func (r *Route) take() []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := make([]Handler, 0, len(r.steps))
	kept := r.steps[:0:0]
	for _, st := range r.steps {
		handlers = append(handlers, st.fn)
		if !st.once {
			kept = append(kept, st)
		}
	}
	if len(kept) != len(r.steps) {
		r.steps = kept
	}
	return handlers
}

func (r *Route) clone() *Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Route{
		event:  r.event,
		steps:  append([]step(nil), r.steps...),
		params: append([]string(nil), r.params...),
		emits:  append([]string(nil), r.emits...),
		once:   r.once,
	}
}

// trigger runs the handlers left to right. Each handler receives a fresh
// context whose Next starts the following handler.
func (r *Route) trigger(s *Socket, args []any) {
	handlers := r.take()
	if len(handlers) == 0 {
		return
	}

	var ns *Namespace
	if s != nil {
		ns = s.namespace
	}

	var run func(i int)
	run = func(i int) {
		var called atomic.Bool
		ctx := &Context{
			Namespace: ns,
			Socket:    s,
			Event:     r.event,
		}
		ctx.next = func(err error) {
			if !called.CompareAndSwap(false, true) {
				return
			}
			// upon error, short-circuit
			if err != nil {
				if s == nil {
					return
				}
				// an error handler failing must not feed the error route again
				if r.event == EventError {
					s.logger.Error("error handler failed", logKeyError, err)
					return
				}
				s.onError(err)
				return
			}
			if i+1 < len(handlers) {
				run(i + 1)
			}
		}
		handlers[i](ctx, args...)
	}

	run(0)
}

// Router maps event names to routes.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*Route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]*Route)}
}

// Route returns the route for event, creating it if needed.
func (r *Router) Route(event string) *Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	route, ok := r.routes[event]
	if !ok {
		route = newRoute(event)
		r.routes[event] = route
	}
	return route
}

// On registers handlers for event and returns the route for chaining.
func (r *Router) On(event string, handlers ...Handler) *Route {
	return r.Route(event).Use(handlers...)
}

// Once is like On, but handlers run for the first trigger only. A new
// route deregisters itself when first triggered; on an existing route the
// handlers are dropped after their first run.
func (r *Router) Once(event string, handlers ...Handler) *Route {
	r.mu.Lock()
	route, ok := r.routes[event]
	if !ok {
		route = newRoute(event)
		route.once = true
		r.routes[event] = route
	}
	r.mu.Unlock()

	route.append(steps(handlers, true))
	return route
}

// Use mounts item on the router:
//   - string: registers handlers for that event
//   - *Router: merges its routes
//   - *Route: replaces the route registered under the same event
func (r *Router) Use(item any, handlers ...Handler) *Router {
	switch v := item.(type) {
	case string:
		r.On(v, handlers...)
	case *Router:
		r.Merge(v)
	case *Route:
		r.mu.Lock()
		r.routes[v.event] = v.clone()
		r.mu.Unlock()
	}
	return r
}

// Merge copies other's routes into r. Colliding handler lists are appended
// after r's own, unless either route is a once-route, in which case r keeps
// the route it already has.
func (r *Router) Merge(other *Router) *Router {
	if other == nil || other == r {
		return r
	}

	other.mu.RLock()
	incoming := make([]*Route, 0, len(other.routes))
	for _, route := range other.routes {
		incoming = append(incoming, route.clone())
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, route := range incoming {
		existing, ok := r.routes[route.event]
		if !ok {
			r.routes[route.event] = route
			continue
		}
		if existing.once || route.once {
			continue
		}
		existing.append(route.steps)
		existing.Expects(route.params...)
		existing.Emits(route.emits...)
	}

	return r
}

// ListensOn reports whether any handler is registered for event.
func (r *Router) ListensOn(event string) bool {
	r.mu.RLock()
	route, ok := r.routes[event]
	r.mu.RUnlock()
	return ok && route.Len() > 0
}

// Events returns the registered event names.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.routes))
	for event := range r.routes {
		events = append(events, event)
	}
	return events
}

// Clone returns a deep copy of the router.
func (r *Router) Clone() *Router {
	return NewRouter().Merge(r)
}

// Trigger runs the route for event on behalf of s. Unknown events are ignored.
func (r *Router) Trigger(event string, s *Socket, args ...any) {
	r.mu.Lock()
	route, ok := r.routes[event]
	if ok && route.once {
		delete(r.routes, event)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	route.trigger(s, args)
}
