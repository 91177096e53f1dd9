package kissio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

func TestTransportCloseDisconnectsEverySocket(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Of("/a")
	b := srv.Of("/b")

	reasons := make(chan any, 1)
	a.On(EventDisconnect, func(ctx *Context, args ...any) {
		reasons <- args[0]
		ctx.Next(nil)
	})

	conn, c := bind(t, srv)
	conn.Receive("0/a,")
	conn.Receive("0/b,")
	c.loop.flush(t)
	require.Len(t, c.Sockets(), 2)

	conn.CloseFromPeer()

	assert.Eventually(t, func() bool {
		return a.Len() == 0 && b.Len() == 0 && srv.Clients() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.Sockets())
	select {
	case reason := <-reasons:
		assert.Equal(t, "transport close", reason)
	case <-time.After(time.Second):
		t.Fatal("disconnect hook not called")
	}
	// the peer is gone, nothing is written on the way out
	assert.Empty(t, conn.PacketsOfType(parser.PacketTypeDisconnect))
	assert.Eventually(t, func() bool {
		select {
		case <-c.loop.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestTransportErrorReachesSocketsThenCloses(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	errs := make(chan error, 1)
	ns.On(EventError, func(ctx *Context, args ...any) {
		if err, ok := args[0].(error); ok {
			errs <- err
		}
		ctx.Next(nil)
	})

	conn, _, s := join(t, srv, "/chat")
	conn.Fail(errors.New("connection reset"))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "connection reset")
	case <-time.After(time.Second):
		t.Fatal("error route not called")
	}

	assert.Eventually(t, func() bool {
		return conn.ReadyState() == engineio.StateClosed && s.Disconnected()
	}, time.Second, 5*time.Millisecond)
}

func TestDecodeErrorClosesConnection(t *testing.T) {
	srv := newTestServer(t)
	conn, _, s := join(t, srv, "/chat")

	conn.Receive("9garbage")

	assert.Eventually(t, func() bool {
		return conn.ReadyState() == engineio.StateClosed && s.Disconnected()
	}, time.Second, 5*time.Millisecond)
}

func TestSocketDisconnectWithCloseClosesTransport(t *testing.T) {
	srv := newTestServer(t)
	srv.Of("/a")
	srv.Of("/b")

	conn, c := bind(t, srv)
	conn.Receive("0/a,")
	conn.Receive("0/b,")
	c.loop.flush(t)

	sa, ok := c.Socket("/a")
	require.True(t, ok)
	sb, ok := c.Socket("/b")
	require.True(t, ok)

	sa.Disconnect(true)

	assert.Eventually(t, func() bool {
		return sa.Disconnected() && sb.Disconnected() && conn.ReadyState() == engineio.StateClosed
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, conn.PacketsOfType(parser.PacketTypeDisconnect), 2)
}

func TestStalePacketIsDropped(t *testing.T) {
	srv := newTestServer(t)
	srv.Of("/other")

	var hits int
	srv.Of("/other").On("x", func(ctx *Context, _ ...any) {
		hits++
		ctx.Next(nil)
	})

	conn, c, _ := join(t, srv, "/chat")
	conn.Receive(`2/other,["x"]`)
	c.loop.flush(t)

	assert.Equal(t, 0, hits)
	assert.Equal(t, engineio.StateOpen, conn.ReadyState())
}

func TestClientReconnectsAfterNamespaceDisconnect(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	conn, c, first := join(t, srv, "/chat")
	conn.Receive("1/chat,")
	conn.Receive("0/chat,")
	c.loop.flush(t)

	second, ok := c.Socket("/chat")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, ns.Len())
}

func TestClientConnectJoinsNamespace(t *testing.T) {
	srv := newTestServer(t)
	srv.Of("/chat")

	conn, c := bind(t, srv)
	c.Connect("chat", nil)
	c.loop.flush(t)

	s, ok := c.Socket("/chat")
	require.True(t, ok)
	assert.True(t, s.Connected())
	assert.Same(t, c, s.Client())
	assert.Same(t, conn, c.Conn())
}

func TestParseConnectTarget(t *testing.T) {
	name, query := parseConnectTarget("/chat?token=abc")
	assert.Equal(t, "/chat", name)
	assert.Equal(t, "abc", query.Get("token"))

	name, query = parseConnectTarget("/")
	assert.Equal(t, "/", name)
	assert.Nil(t, query)
}
