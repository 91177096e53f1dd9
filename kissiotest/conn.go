// Package kissiotest provides an in-memory transport connection for tests.
package kissiotest

import (
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

// Conn is an in-memory connection. Frames written by the server are
// recorded; frames from the peer are injected with Receive.
type Conn struct {
	id       string
	request  *engineio.Request
	state    atomic.Int32
	writable atomic.Bool

	mu        sync.Mutex
	frames    [][]byte
	compress  []bool
	onMessage func([]byte)
	onError   func(error)
	onClose   []func(string)
}

// NewConn returns an open connection with a random id and an empty request.
func NewConn() *Conn {
	return NewConnWithRequest(&engineio.Request{
		Headers: http.Header{},
		Query:   url.Values{},
		URL:     "/socket.io/?EIO=4&transport=websocket",
	})
}

// NewConnWithRequest returns an open connection carrying req.
func NewConnWithRequest(req *engineio.Request) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		request: req,
	}
	c.state.Store(int32(engineio.StateOpen))
	c.writable.Store(true)
	return c
}

func (c *Conn) ID() string                      { return c.id }
func (c *Conn) ReadyState() engineio.ReadyState { return engineio.ReadyState(c.state.Load()) }
func (c *Conn) Request() *engineio.Request      { return c.request }
func (c *Conn) Writable() bool                  { return c.writable.Load() }

// SetWritable toggles what Writable reports.
func (c *Conn) SetWritable(writable bool) {
	c.writable.Store(writable)
}

// Write records frame.
func (c *Conn) Write(frame []byte, opts engineio.WriteOptions) error {
	if c.ReadyState() != engineio.StateOpen {
		return engineio.ErrSessionClosed
	}

	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	c.compress = append(c.compress, opts.Compress)
	c.mu.Unlock()
	return nil
}

func (c *Conn) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Conn) OnClose(fn func(string)) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Close marks the connection closed and notifies the close listeners once.
func (c *Conn) Close(reason string) {
	if !c.state.CompareAndSwap(int32(engineio.StateOpen), int32(engineio.StateClosed)) {
		return
	}

	c.mu.Lock()
	handlers := append([]func(string){}, c.onClose...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(reason)
	}
}

// CloseFromPeer simulates the peer going away.
func (c *Conn) CloseFromPeer() {
	c.Close("transport close")
}

// Receive delivers a raw frame as if the peer sent it.
func (c *Conn) Receive(frame string) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()

	if fn != nil {
		fn([]byte(frame))
	}
}

// ReceivePacket encodes p and delivers it.
func (c *Conn) ReceivePacket(p *parser.Packet) error {
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	c.Receive(encoded)
	return nil
}

// Fail reports a transport error.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Frames returns a copy of every frame written so far.
func (c *Conn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

// Packets decodes every frame written so far. Frames that fail to decode
// are skipped.
func (c *Conn) Packets() []*parser.Packet {
	var out []*parser.Packet
	for _, f := range c.Frames() {
		p, err := parser.DecodePacket(f)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PacketsOfType returns the written packets of type t.
func (c *Conn) PacketsOfType(t parser.PacketType) []*parser.Packet {
	var out []*parser.Packet
	for _, p := range c.Packets() {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Events returns the written EVENT packets named event.
func (c *Conn) Events(event string) []*parser.Packet {
	var out []*parser.Packet
	for _, p := range c.PacketsOfType(parser.PacketTypeEvent) {
		data, ok := p.Data.([]any)
		if !ok || len(data) == 0 {
			continue
		}
		if name, _ := data[0].(string); name == event {
			out = append(out, p)
		}
	}
	return out
}

// Reset drops the recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.compress = nil
	c.mu.Unlock()
}
