package kissio

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

// Middleware admits or rejects a socket by calling next, possibly later.
type Middleware func(s *Socket, next func(error))

// HeaderMiddleware is a Middleware that also receives the request headers.
type HeaderMiddleware func(s *Socket, headers http.Header, next func(error))

// Namespace represents a Socket.IO namespace
type Namespace struct {
	name        string
	logger      atomic.Pointer[slog.Logger]
	encoder     atomic.Value // parser.Encoder
	adapter     Adapter
	router      *Router
	ackID       atomic.Uint64
	sockets     map[string]*Socket
	mu          sync.RWMutex
	middlewares []HeaderMiddleware
	plugins     []Plugin
	caps        capabilities
	locals      map[string]any
}

// Slugify normalizes a namespace name by prefixing "/" when missing.
func Slugify(name string) string {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// NewNamespace creates a namespace that is not yet mounted on any server.
func NewNamespace(name string) *Namespace {
	ns := &Namespace{
		name:    Slugify(name),
		router:  NewRouter(),
		sockets: make(map[string]*Socket),
		caps:    make(capabilities),
		locals:  make(map[string]any),
	}
	ns.encoder.Store(parser.Encoder(parser.TextEncoder{}))
	ns.adapter = NewMemoryAdapter(ns)

	return ns
}

// Name returns the namespace name
func (ns *Namespace) Name() string {
	return ns.name
}

// Router returns the namespace router. Sockets copy it when they are created.
func (ns *Namespace) Router() *Router {
	return ns.router
}

// Logger returns the namespace logger.
func (ns *Namespace) Logger() *slog.Logger {
	if l := ns.logger.Load(); l != nil {
		return l
	}
	return slog.Default().With(logKeyNamespace, ns.name)
}

// SetLogger replaces the namespace logger.
func (ns *Namespace) SetLogger(logger *slog.Logger) {
	ns.logger.Store(logger.With(logKeyNamespace, ns.name))
}

func (ns *Namespace) setEncoder(enc parser.Encoder) {
	ns.encoder.Store(enc)
}

// Encoder returns the encoder used to pre-encode broadcasts.
func (ns *Namespace) Encoder() parser.Encoder {
	return ns.encoder.Load().(parser.Encoder)
}

// Adapter returns the broadcast adapter.
func (ns *Namespace) Adapter() Adapter {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.adapter
}

// SetAdapter sets a custom adapter
func (ns *Namespace) SetAdapter(adapter Adapter) {
	ns.mu.Lock()
	ns.adapter = adapter
	ns.mu.Unlock()
}

// Configure runs fn against the namespace, typically before it is mounted.
func (ns *Namespace) Configure(fn func(*Namespace)) *Namespace {
	if fn != nil {
		fn(ns)
	}
	return ns
}

// Set stores an application-level local.
func (ns *Namespace) Set(key string, value any) *Namespace {
	ns.mu.Lock()
	ns.locals[key] = value
	ns.mu.Unlock()
	return ns
}

// Get returns an application-level local.
func (ns *Namespace) Get(key string) (any, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	v, ok := ns.locals[key]
	return v, ok
}

// Plug attaches p to the namespace. Every socket admitted afterwards
// receives p's socket capabilities.
func (ns *Namespace) Plug(p Plugin) *Namespace {
	ns.mu.Lock()
	ns.plugins = append(ns.plugins, p)
	ns.mu.Unlock()

	attachToNamespace(p, ns)
	return ns
}

// PlugFunc builds a plugin with ctor and plugs it.
func (ns *Namespace) PlugFunc(ctor PluginConstructor, opts any) *Namespace {
	return ns.Plug(ctor(ns, opts))
}

// Plugins returns the plugged plugins in order.
func (ns *Namespace) Plugins() []Plugin {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return append([]Plugin(nil), ns.plugins...)
}

// Capability returns the value a plugin contributed under name.
func (ns *Namespace) Capability(name string) (any, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	v, ok := ns.caps[name]
	return v, ok
}

func (ns *Namespace) setCapability(name string, v any) {
	ns.mu.Lock()
	ns.caps[name] = v
	ns.mu.Unlock()
}

// Use mounts item on the namespace:
//   - Middleware / HeaderMiddleware (or the equivalent func literals): appended to the middleware chain
//   - Plugin: plugged
//   - string: handlers registered for that event
//   - *Router, *Route: merged into the namespace router
func (ns *Namespace) Use(item any, handlers ...Handler) *Namespace {
	switch v := item.(type) {
	case Middleware:
		ns.addMiddleware(adaptMiddleware(v))
	case func(*Socket, func(error)):
		ns.addMiddleware(adaptMiddleware(v))
	case HeaderMiddleware:
		ns.addMiddleware(v)
	case func(*Socket, http.Header, func(error)):
		ns.addMiddleware(v)
	case string:
		ns.router.On(v, handlers...)
	case *Router, *Route:
		ns.router.Use(v)
	case Plugin:
		ns.Plug(v)
	default:
		ns.Logger().Debug("ignoring unsupported item passed to Use")
	}
	return ns
}

func adaptMiddleware(fn func(*Socket, func(error))) HeaderMiddleware {
	return func(s *Socket, _ http.Header, next func(error)) {
		fn(s, next)
	}
}

func (ns *Namespace) addMiddleware(fn HeaderMiddleware) {
	ns.mu.Lock()
	ns.middlewares = append(ns.middlewares, fn)
	ns.mu.Unlock()
}

// On registers handlers for event on every socket admitted afterwards.
func (ns *Namespace) On(event string, handlers ...Handler) *Route {
	return ns.router.On(event, handlers...)
}

// Once registers handlers that run on the first occurrence of event per socket.
func (ns *Namespace) Once(event string, handlers ...Handler) *Route {
	return ns.router.Once(event, handlers...)
}

// OnConnect registers a connection handler for this namespace
func (ns *Namespace) OnConnect(handler func(*Socket)) *Route {
	return ns.On(EventConnection, func(ctx *Context, _ ...any) {
		handler(ctx.Socket)
		ctx.Next(nil)
	})
}

// run executes the middleware chain for s and reports the outcome to done.
// A rejection stops the chain.
func (ns *Namespace) run(s *Socket, done func(error)) {
	ns.mu.RLock()
	fns := append([]HeaderMiddleware(nil), ns.middlewares...)
	ns.mu.RUnlock()

	if len(fns) == 0 {
		done(nil)
		return
	}

	headers := s.Handshake().Headers

	var run func(i int)
	run = func(i int) {
		var called atomic.Bool
		fns[i](s, headers, func(err error) {
			if !called.CompareAndSwap(false, true) {
				return
			}
			// upon error, short-circuit
			if err != nil {
				done(err)
				return
			}
			// if no middleware left, summon callback
			if i+1 == len(fns) {
				done(nil)
				return
			}
			// go on to next
			run(i + 1)
		})
	}

	run(0)
}

// Add admits s: plugins are attached, the middleware chain runs, and on
// success the socket is registered before any connect handler fires.
// callback receives the admission outcome.
func (ns *Namespace) Add(s *Socket, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}

	logger := ns.Logger().With(logKeySocketID, s.ID())

	if s.client.conn.ReadyState() != engineio.StateOpen {
		logger.Debug("client was closed before admission - ignoring socket")
		callback(ErrTransportClosed)
		return
	}

	s.trigger(EventPreSetup, s)

	for _, p := range ns.Plugins() {
		attachToSocket(p, s)
	}

	ns.run(s, func(err error) {
		// Continue on the client's scheduler whichever goroutine called next.
		s.client.loop.post(func() {
			ns.admit(s, err, callback, logger)
		})
	})
}

func (ns *Namespace) admit(s *Socket, err error, callback func(error), logger *slog.Logger) {
	if err != nil {
		logger.Warn("middleware rejected socket", logKeyError, err)
		s.sendError(errorPayload(err))
		s.close("middleware rejection", false)
		callback(err)
		return
	}

	if s.client.conn.ReadyState() != engineio.StateOpen || socketState(s.state.Load()) != statePending {
		logger.Debug("next called after client was closed - ignoring socket")
		s.close("transport close", false)
		callback(ErrTransportClosed)
		return
	}

	// track socket
	ns.mu.Lock()
	ns.sockets[s.ID()] = s
	ns.mu.Unlock()
	s.state.Store(int32(stateConnected))

	callback(nil)

	// Bookkeeping is committed before user-visible handlers run, so a
	// handler may disconnect the socket safely.
	s.onConnect()
	s.trigger(EventConnect, s)
	s.trigger(EventConnection, s)
}

// remove drops s from the registry. Called by each Socket.
func (ns *Namespace) remove(s *Socket) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if current, ok := ns.sockets[s.ID()]; ok && current == s {
		delete(ns.sockets, s.ID())
		return
	}
	ns.Logger().Debug("ignoring remove", logKeySocketID, s.ID())
}

func (ns *Namespace) nextAckID() uint64 {
	return ns.ackID.Add(1) - 1
}

// Sockets returns all connected sockets
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, socket := range ns.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// SocketIDs returns a snapshot of the connected socket ids.
func (ns *Namespace) SocketIDs() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	ids := make([]string, 0, len(ns.sockets))
	for id := range ns.sockets {
		ids = append(ids, id)
	}
	return ids
}

// Socket retrieves a connected socket by ID
func (ns *Namespace) Socket(id string) (*Socket, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	socket, ok := ns.sockets[id]
	return socket, ok
}

// Len returns the number of connected sockets.
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.sockets)
}

// Except returns a BroadcastOperator that skips the given socket ids.
func (ns *Namespace) Except(socketIDs ...string) *BroadcastOperator {
	op := BroadcastOperator{namespace: ns, compress: true}
	return op.Except(socketIDs...)
}

// Broadcast sends an event to every connected socket.
func (ns *Namespace) Broadcast(event string, args ...any) error {
	return ns.BroadcastWithOptions(BroadcastOptions{Compress: true}, event, args...)
}

// Emit is an alias of Broadcast.
func (ns *Namespace) Emit(event string, args ...any) error {
	return ns.Broadcast(event, args...)
}

// Send broadcasts a "message" event.
func (ns *Namespace) Send(args ...any) error {
	return ns.Broadcast(EventMessage, args...)
}

// BroadcastWithOptions sends an event to every connected socket not excluded by opts.
func (ns *Namespace) BroadcastWithOptions(opts BroadcastOptions, event string, args ...any) error {
	if IsReservedEvent(event) {
		return fmt.Errorf("broadcast %q: %w", event, ErrReservedEvent)
	}
	if _, ok := popAck(args); ok {
		return ErrBroadcastAck
	}

	data := make([]any, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	packet := &parser.Packet{
		Type:      parser.PacketTypeEvent,
		Namespace: ns.name,
		Data:      data,
	}

	return ns.Adapter().Broadcast(packet, opts)
}

// BroadcastOptions scope one broadcast call.
type BroadcastOptions struct {
	Except   []string
	Volatile bool
	Compress bool
}

// BroadcastOperator provides methods for broadcasting with call-scoped options
type BroadcastOperator struct {
	namespace *Namespace
	except    []string
	volatile  bool
	compress  bool
}

// Except excludes specific socket IDs from the broadcast
func (b BroadcastOperator) Except(socketIDs ...string) *BroadcastOperator {
	b.except = append(append([]string(nil), b.except...), socketIDs...)
	return &b
}

// Volatile marks the broadcast as droppable for sockets that are not writable.
func (b BroadcastOperator) Volatile() *BroadcastOperator {
	b.volatile = true
	return &b
}

// Compress sets the compress flag.
func (b BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	b.compress = compress
	return &b
}

// Options returns the options the operator broadcasts with.
func (b *BroadcastOperator) Options() BroadcastOptions {
	return BroadcastOptions{
		Except:   append([]string(nil), b.except...),
		Volatile: b.volatile,
		Compress: b.compress,
	}
}

// Broadcast sends an event with the operator's options.
func (b *BroadcastOperator) Broadcast(event string, args ...any) error {
	return b.namespace.BroadcastWithOptions(b.Options(), event, args...)
}

// Emit is an alias of Broadcast.
func (b *BroadcastOperator) Emit(event string, args ...any) error {
	return b.Broadcast(event, args...)
}
