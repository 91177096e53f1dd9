package kissio

import (
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

type packetOptions struct {
	volatile bool
	compress bool
	// preEncoded frames are written as is.
	preEncoded [][]byte
}

// Client multiplexes the sockets of one transport connection. It owns the
// connection's codec pair and a scheduler that serializes its state changes.
type Client struct {
	id      string
	server  *Server
	conn    Conn
	encoder parser.Encoder
	decoder parser.Decoder
	loop    *scheduler
	logger  *slog.Logger

	mu         sync.Mutex
	sockets    map[string]*Socket // namespace name -> socket
	connecting map[string]*Socket
	closed     atomic.Bool
}

func newClient(server *Server, conn Conn) *Client {
	logger := server.logger.With(logKeyClientID, conn.ID())

	c := &Client{
		id:         conn.ID(),
		server:     server,
		conn:       conn,
		encoder:    server.parser.NewEncoder(),
		decoder:    server.parser.NewDecoder(),
		loop:       newScheduler(logger),
		logger:     logger,
		sockets:    make(map[string]*Socket),
		connecting: make(map[string]*Socket),
	}

	c.decoder.OnDecoded(c.onDecoded)

	conn.OnMessage(func(data []byte) {
		c.loop.post(func() { c.onData(data) })
	})
	conn.OnError(func(err error) {
		c.loop.post(func() { c.onError(err) })
	})
	conn.OnClose(func(reason string) {
		c.loop.post(func() { c.onClose(reason) })
	})

	return c
}

// ID returns the client id, which is the transport connection id.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying transport connection.
func (c *Client) Conn() Conn {
	return c.conn
}

// Request returns the transport request metadata.
func (c *Client) Request() *engineio.Request {
	return c.conn.Request()
}

// Socket returns the client's socket in the named namespace.
func (c *Client) Socket(namespace string) (*Socket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sockets[Slugify(namespace)]
	return s, ok
}

// Sockets returns the client's connected sockets.
func (c *Client) Sockets() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()

	sockets := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	return sockets
}

// Connect joins the named namespace as if the peer had sent a CONNECT packet.
func (c *Client) Connect(name string, query url.Values) {
	c.loop.post(func() { c.connect(Slugify(name), query) })
}

// connect builds a socket for the namespace and hands it to admission.
func (c *Client) connect(name string, query url.Values) {
	ns, ok := c.server.namespace(name)
	if !ok {
		c.logger.Warn("rejecting connection to unknown namespace", logKeyNamespace, name)
		_ = c.packet(&parser.Packet{
			Type:      parser.PacketTypeError,
			Namespace: name,
			Data:      errorPayload(ErrUnknownNamespace),
		}, packetOptions{compress: true})
		return
	}

	c.mu.Lock()
	if s, ok := c.sockets[name]; ok {
		c.mu.Unlock()
		c.logger.Debug("socket already connected - resending ack", logKeyNamespace, name)
		s.onConnect()
		return
	}
	if _, ok := c.connecting[name]; ok {
		c.mu.Unlock()
		c.logger.Debug("socket admission in progress - ignoring connect", logKeyNamespace, name)
		return
	}

	s := NewSocket(ns, c, query)
	c.connecting[name] = s
	c.mu.Unlock()

	ns.Add(s, func(err error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.connecting[name] == s {
			delete(c.connecting, name)
		}
		if err == nil && !c.closed.Load() {
			c.sockets[name] = s
		}
	})
}

// Disconnect closes every socket, notifying the peer, and then the transport.
func (c *Client) Disconnect() {
	for _, s := range c.allSockets() {
		s.close("server namespace disconnect", true)
	}
	c.close("forced server close")
}

func (c *Client) allSockets() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()

	sockets := make([]*Socket, 0, len(c.sockets)+len(c.connecting))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	for _, s := range c.connecting {
		sockets = append(sockets, s)
	}
	return sockets
}

// close closes the transport. The resulting close notification tears down
// the client.
func (c *Client) close(reason string) {
	if c.conn.ReadyState() == engineio.StateOpen {
		c.logger.Debug("forcing transport close", logKeyReason, reason)
		c.conn.Close(reason)
	}
}

// remove drops s from the socket maps. Called by each Socket.
func (c *Client) remove(s *Socket) {
	name := s.Namespace().Name()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sockets[name] == s {
		delete(c.sockets, name)
		return
	}
	if c.connecting[name] == s {
		delete(c.connecting, name)
		return
	}
	c.logger.Debug("ignoring remove for socket", logKeySocketID, s.ID())
}

// packet encodes p and writes it to the transport.
func (c *Client) packet(p *parser.Packet, opts packetOptions) error {
	if c.conn.ReadyState() != engineio.StateOpen {
		c.logger.Debug("ignoring packet write", logKeyPacketType, p.Type.String())
		return ErrTransportClosed
	}

	frames := opts.preEncoded
	if frames == nil {
		var err error
		if frames, err = c.encoder.Encode(p); err != nil {
			return err
		}
	}

	return c.writeFrames(frames, opts)
}

// writeFrames writes already encoded frames. Volatile frames are dropped
// when the transport cannot take them right away.
func (c *Client) writeFrames(frames [][]byte, opts packetOptions) error {
	if c.conn.ReadyState() != engineio.StateOpen {
		return ErrTransportClosed
	}

	if opts.volatile && !c.conn.Writable() {
		c.logger.Debug("volatile packet is discarded since the transport is not currently writable")
		return nil
	}

	for _, frame := range frames {
		if err := c.conn.Write(frame, engineio.WriteOptions{Compress: opts.compress}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) onData(data []byte) {
	if c.closed.Load() {
		return
	}
	if err := c.decoder.Add(data); err != nil {
		c.onError(err)
	}
}

func (c *Client) onDecoded(packet *parser.Packet) {
	if packet.Type == parser.PacketTypeConnect {
		name, query := parseConnectTarget(packet.Namespace)
		c.connect(name, query)
		return
	}

	c.mu.Lock()
	s, ok := c.sockets[packet.Namespace]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("no socket for namespace", logKeyNamespace, packet.Namespace, logKeyPacketType, packet.Type.String())
		return
	}

	s.onPacket(packet)
}

// parseConnectTarget splits a CONNECT namespace such as "/chat?token=x".
func parseConnectTarget(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return Slugify(raw), nil
	}
	if u.RawQuery == "" {
		return Slugify(u.Path), nil
	}
	return Slugify(u.Path), u.Query()
}

// onError hands err to every socket, then forces the transport closed.
func (c *Client) onError(err error) {
	c.logger.Debug("client error", logKeyError, err)

	for _, s := range c.Sockets() {
		s.onError(err)
	}
	c.close("client error")
}

// onClose tears the client down once. Every socket is closed with reason.
func (c *Client) onClose(reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.logger.Debug("client close", logKeyReason, reason)

	c.decoder.Destroy()

	for _, s := range c.allSockets() {
		s.close(reason, false)
	}

	c.mu.Lock()
	clear(c.sockets)
	clear(c.connecting)
	c.mu.Unlock()

	c.server.removeClient(c)
	c.loop.stop()
}
