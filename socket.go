package kissio

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

// Lifecycle events. Emitting one of them on a socket dispatches it locally
// instead of sending it to the client.
const (
	EventConnect       = "connect"
	EventConnection    = "connection"
	EventDisconnect    = "disconnect"
	EventError         = "error"
	EventPreSetup      = "pre-setup"
	EventPreDisconnect = "pre-disconnect"
	EventMessage       = "message"
)

var reservedEvents = map[string]struct{}{
	EventConnect:       {},
	EventConnection:    {},
	EventDisconnect:    {},
	EventError:         {},
	EventPreSetup:      {},
	EventPreDisconnect: {},
	"newListener":      {},
	"removeListener":   {},
}

// IsReservedEvent reports whether event is a lifecycle event name.
func IsReservedEvent(event string) bool {
	_, ok := reservedEvents[event]
	return ok
}

type socketState int32

const (
	statePending socketState = iota
	stateConnected
	stateDisconnected
)

// AckFunc receives the arguments of an acknowledgement.
type AckFunc func(args ...any)

// EmitOptions tune a single emit.
type EmitOptions struct {
	// Volatile packets are dropped when the transport is not writable.
	Volatile bool
	Compress bool
}

var defaultEmitOptions = EmitOptions{Compress: true}

// Socket is one client connection joined to one namespace.
type Socket struct {
	id        string
	namespace *Namespace
	client    *Client
	handshake Handshake
	router    *Router
	logger    *slog.Logger
	state     atomic.Int32
	closing   atomic.Bool
	acks      map[uint64]AckFunc
	acksMu    sync.Mutex
	caps      capabilities
	capsMu    sync.RWMutex
	data      sync.Map
}

// NewSocket creates a pending socket for client in ns. Its router starts as
// a copy of the namespace router.
func NewSocket(ns *Namespace, client *Client, query url.Values) *Socket {
	id := client.ID()
	if ns.Name() != parser.DefaultNamespace {
		id = ns.Name() + "#" + id
	}

	s := &Socket{
		id:        id,
		namespace: ns,
		client:    client,
		handshake: buildHandshake(client.Request(), query),
		router:    ns.Router().Clone(),
		acks:      make(map[uint64]AckFunc),
		caps:      make(capabilities),
	}
	s.logger = client.logger.With(logKeySocketID, id, logKeyNamespace, ns.Name())

	return s
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace the socket belongs to.
func (s *Socket) Namespace() *Namespace {
	return s.namespace
}

// Client returns the client owning the socket.
func (s *Socket) Client() *Client {
	return s.client
}

// Handshake returns a copy of the metadata captured at creation.
func (s *Socket) Handshake() Handshake {
	return s.handshake.clone()
}

// Request returns the transport request metadata.
func (s *Socket) Request() *engineio.Request {
	return s.client.Request()
}

// Router returns the socket's own router.
func (s *Socket) Router() *Router {
	return s.router
}

// Connected reports whether the socket is admitted and not yet disconnected.
func (s *Socket) Connected() bool {
	return socketState(s.state.Load()) == stateConnected
}

// Disconnected reports whether the socket reached its terminal state.
func (s *Socket) Disconnected() bool {
	return socketState(s.state.Load()) == stateDisconnected
}

// On registers handlers on this socket only.
func (s *Socket) On(event string, handlers ...Handler) *Route {
	return s.router.On(event, handlers...)
}

// Once registers handlers that run for the first occurrence of event only.
func (s *Socket) Once(event string, handlers ...Handler) *Route {
	return s.router.Once(event, handlers...)
}

// Capability returns the value a plugin contributed under name.
func (s *Socket) Capability(name string) (any, bool) {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()

	v, ok := s.caps[name]
	return v, ok
}

func (s *Socket) setCapability(name string, v any) {
	s.capsMu.Lock()
	s.caps[name] = v
	s.capsMu.Unlock()
}

// Set stores arbitrary data on the socket
func (s *Socket) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get retrieves data from the socket
func (s *Socket) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// Emit sends an event to the client. When the last argument is an AckFunc
// (or func(...any)) it is called once the client acknowledges the event.
func (s *Socket) Emit(event string, args ...any) error {
	return s.EmitWithOptions(defaultEmitOptions, event, args...)
}

// EmitWithOptions is Emit with per-call options.
func (s *Socket) EmitWithOptions(opts EmitOptions, event string, args ...any) error {
	if IsReservedEvent(event) {
		s.trigger(event, args...)
		return nil
	}

	if s.Disconnected() {
		return ErrNotConnected
	}

	packet := &parser.Packet{Type: parser.PacketTypeEvent}

	if ack, ok := popAck(args); ok {
		args = args[:len(args)-1]
		id := s.namespace.nextAckID()

		s.acksMu.Lock()
		s.acks[id] = ack
		s.acksMu.Unlock()

		packet.ID = &id
		s.logger.Debug("emitting packet with ack id", logKeyEvent, event, "ack_id", id)
	}

	packet.Data = append([]any{event}, args...)

	return s.packet(packet, opts)
}

// Send emits a "message" event.
func (s *Socket) Send(args ...any) error {
	return s.Emit(EventMessage, args...)
}

// Broadcast sends an event to every other socket of the namespace.
func (s *Socket) Broadcast(event string, args ...any) error {
	return s.namespace.BroadcastWithOptions(BroadcastOptions{
		Except:   []string{s.id},
		Compress: true,
	}, event, args...)
}

// Disconnect leaves the namespace. With close set, the whole connection is
// closed, disconnecting every socket of the client.
func (s *Socket) Disconnect(close bool) {
	if s.Disconnected() {
		return
	}

	if close {
		s.client.Disconnect()
		return
	}

	s.close("server namespace disconnect", true)
}

func popAck(args []any) (AckFunc, bool) {
	if len(args) == 0 {
		return nil, false
	}
	switch fn := args[len(args)-1].(type) {
	case AckFunc:
		return fn, true
	case func(...any):
		return fn, true
	}
	return nil, false
}

func (s *Socket) packet(packet *parser.Packet, opts EmitOptions) error {
	packet.Namespace = s.namespace.Name()
	return s.client.packet(packet, packetOptions{
		volatile: opts.Volatile,
		compress: opts.Compress,
	})
}

func (s *Socket) trigger(event string, args ...any) {
	s.router.Trigger(event, s, args...)
}

// onConnect is called by the namespace once the socket is admitted.
func (s *Socket) onConnect() {
	s.logger.Debug("socket connected - writing packet")

	_ = s.packet(&parser.Packet{
		Type: parser.PacketTypeConnect,
		Data: map[string]any{"sid": s.id},
	}, defaultEmitOptions)
}

// sendError writes an ERROR packet carrying data.
func (s *Socket) sendError(data any) {
	_ = s.packet(&parser.Packet{
		Type: parser.PacketTypeError,
		Data: data,
	}, defaultEmitOptions)
}

func (s *Socket) onPacket(packet *parser.Packet) {
	s.logger.Debug("got packet", logKeyPacketType, packet.Type.String())

	switch packet.Type {
	case parser.PacketTypeEvent, parser.PacketTypeBinaryEvent:
		s.onEvent(packet)
	case parser.PacketTypeAck, parser.PacketTypeBinaryAck:
		s.onAck(packet)
	case parser.PacketTypeDisconnect:
		s.onDisconnect()
	case parser.PacketTypeError:
		s.onError(fmt.Errorf("client error: %v", packet.Data))
	}
}

func (s *Socket) onEvent(packet *parser.Packet) {
	data, ok := packet.Data.([]any)
	if !ok || len(data) == 0 {
		return
	}

	event, ok := data[0].(string)
	if !ok {
		return
	}

	if IsReservedEvent(event) {
		s.logger.Debug("dropping reserved event from client", logKeyEvent, event)
		return
	}

	args := append([]any(nil), data[1:]...)

	if packet.ID != nil {
		args = append(args, s.ack(*packet.ID))
	}

	s.trigger(event, args...)
}

// ack produces the callback handed to handlers of an event that requested
// an acknowledgement. Only the first call sends an ACK packet.
func (s *Socket) ack(id uint64) AckFunc {
	var sent atomic.Bool

	return func(args ...any) {
		// prevent double callbacks
		if !sent.CompareAndSwap(false, true) {
			return
		}

		if args == nil {
			args = []any{}
		}

		_ = s.packet(&parser.Packet{
			Type: parser.PacketTypeAck,
			Data: args,
			ID:   &id,
		}, defaultEmitOptions)
	}
}

func (s *Socket) onAck(packet *parser.Packet) {
	if packet.ID == nil {
		return
	}

	s.acksMu.Lock()
	ack, ok := s.acks[*packet.ID]
	delete(s.acks, *packet.ID)
	s.acksMu.Unlock()

	if !ok {
		s.logger.Debug("bad ack", "ack_id", *packet.ID)
		return
	}

	var args []any
	if dataArray, ok := packet.Data.([]any); ok {
		args = dataArray
	}

	ack(args...)
}

func (s *Socket) onDisconnect() {
	s.logger.Debug("got disconnect packet")
	s.close("client namespace disconnect", false)
}

// onError hands err to the socket's error handlers, or logs it when there
// are none. The socket stays open either way.
func (s *Socket) onError(err error) {
	if s.router.ListensOn(EventError) {
		s.trigger(EventError, err)
		return
	}

	s.logger.Error("missing error handler on socket", logKeyError, err)
}

// close runs the disconnect protocol once. notify sends a DISCONNECT packet.
func (s *Socket) close(reason string, notify bool) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	// a pending socket was never announced: plugins still clean up, but no
	// packet or disconnect hook follows
	if socketState(s.state.Load()) == statePending {
		s.trigger(EventPreDisconnect, reason)
		s.state.Store(int32(stateDisconnected))
		s.client.remove(s)
		return
	}

	s.logger.Debug("closing socket", logKeyReason, reason)

	s.trigger(EventPreDisconnect, reason)

	if notify {
		_ = s.packet(&parser.Packet{Type: parser.PacketTypeDisconnect}, defaultEmitOptions)
	}

	s.namespace.remove(s)
	s.client.remove(s)
	s.state.Store(int32(stateDisconnected))

	s.acksMu.Lock()
	clear(s.acks)
	s.acksMu.Unlock()

	s.client.loop.post(func() {
		s.trigger(EventDisconnect, reason)
	})
}
