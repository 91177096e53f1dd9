package kissio

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/kissiotest"
	"github.com/ramory-l/kissio/parser"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "/chat", Slugify("chat"))
	assert.Equal(t, "/chat", Slugify("/chat"))
	assert.Equal(t, "/", Slugify(""))
}

func TestNamespaceRegistersSocketBeforeConnectionHooks(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	var order []string
	var registered, connected bool
	ns.On(EventConnect, func(ctx *Context, _ ...any) {
		order = append(order, "connect")
		ctx.Next(nil)
	})
	ns.On(EventConnection, func(ctx *Context, _ ...any) {
		_, registered = ns.Socket(ctx.Socket.ID())
		connected = ctx.Socket.Connected()
		order = append(order, "connection")
		ctx.Next(nil)
	})

	conn, _, s := join(t, srv, "/chat")

	assert.Equal(t, []string{"connect", "connection"}, order)
	assert.True(t, registered)
	assert.True(t, connected)
	assert.Equal(t, "/chat#"+conn.ID(), s.ID())

	acks := conn.PacketsOfType(parser.PacketTypeConnect)
	require.Len(t, acks, 1)
	assert.Equal(t, "/chat", acks[0].Namespace)
	assert.Equal(t, map[string]any{"sid": s.ID()}, acks[0].Data)
}

func TestNamespaceConnectionHandlerMayDisconnect(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")
	ns.OnConnect(func(s *Socket) {
		s.Disconnect(false)
	})

	conn, c := bind(t, srv)
	conn.Receive("0/chat,")
	c.loop.flush(t)

	assert.Equal(t, 0, ns.Len())
	_, ok := c.Socket("/chat")
	assert.False(t, ok)
	assert.Len(t, conn.PacketsOfType(parser.PacketTypeDisconnect), 1)
}

func TestMiddlewareRunsInOrderAndShortCircuits(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	var order []int
	ns.Use(func(s *Socket, next func(error)) {
		order = append(order, 1)
		next(nil)
	})
	ns.Use(func(s *Socket, next func(error)) {
		order = append(order, 2)
		next(NewMiddlewareError("denied", nil))
	})
	ns.Use(func(s *Socket, next func(error)) {
		order = append(order, 3)
		next(nil)
	})

	conn, c := bind(t, srv)
	conn.Receive("0/chat,")
	c.loop.flush(t)

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, ns.Len())
	_, ok := c.Socket("/chat")
	assert.False(t, ok)

	errs := conn.PacketsOfType(parser.PacketTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "/chat", errs[0].Namespace)
	assert.Equal(t, "denied", errs[0].Data)
	assert.Equal(t, engineio.StateOpen, conn.ReadyState())
	assert.Empty(t, conn.PacketsOfType(parser.PacketTypeConnect))
}

func TestMiddlewareErrorDataIsSentToClient(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")
	ns.Use(func(s *Socket, next func(error)) {
		next(NewMiddlewareError("denied", map[string]any{"code": "E_AUTH"}))
	})

	conn, c := bind(t, srv)
	conn.Receive("0/chat,")
	c.loop.flush(t)

	errs := conn.PacketsOfType(parser.PacketTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, map[string]any{"code": "E_AUTH"}, errs[0].Data)
}

func TestAsyncMiddlewareAdmitsLater(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	release := make(chan struct{})
	ns.Use(func(s *Socket, next func(error)) {
		go func() {
			<-release
			next(nil)
		}()
	})

	conn, c := bind(t, srv)
	conn.Receive("0/chat,")
	// a second CONNECT while admission is pending is ignored
	conn.Receive("0/chat,")
	c.loop.flush(t)
	assert.Equal(t, 0, ns.Len())

	close(release)

	assert.Eventually(t, func() bool { return ns.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(conn.PacketsOfType(parser.PacketTypeConnect)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncMiddlewareAfterTransportClose(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	release := make(chan struct{})
	ns.Use(func(s *Socket, next func(error)) {
		go func() {
			<-release
			next(nil)
		}()
	})

	conn, c := bind(t, srv)
	conn.Receive("0/chat,")
	c.loop.flush(t)

	conn.CloseFromPeer()
	close(release)

	assert.Never(t, func() bool { return ns.Len() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, conn.PacketsOfType(parser.PacketTypeConnect))
}

func TestHeaderMiddlewareReceivesRequestHeaders(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	var auth string
	ns.Use(func(s *Socket, headers http.Header, next func(error)) {
		auth = headers.Get("Authorization")
		next(nil)
	})

	conn := kissiotest.NewConnWithRequest(&engineio.Request{
		Headers: http.Header{"Authorization": {"Bearer abc"}},
		Query:   url.Values{"EIO": {"4"}, "nick": {"bob"}},
	})
	c := srv.Bind(conn)
	conn.Receive("0/chat,")
	c.loop.flush(t)

	assert.Equal(t, "Bearer abc", auth)
	s, ok := c.Socket("/chat")
	require.True(t, ok)
	assert.Equal(t, "bob", s.Handshake().Query.Get("nick"))
}

func TestConnectQueryOverridesRequestQuery(t *testing.T) {
	srv := newTestServer(t)
	srv.Of("/chat")

	conn := kissiotest.NewConnWithRequest(&engineio.Request{
		Headers: http.Header{},
		Query:   url.Values{"EIO": {"4"}, "nick": {"bob"}},
	})
	c := srv.Bind(conn)
	conn.Receive("0/chat?room=lobby,")
	c.loop.flush(t)

	s, ok := c.Socket("/chat")
	require.True(t, ok)
	q := s.Handshake().Query
	assert.Equal(t, "lobby", q.Get("room"))
	assert.Equal(t, "4", q.Get("EIO"))
	assert.Empty(t, q.Get("nick"))
}

func TestUnknownNamespaceSendsError(t *testing.T) {
	srv := newTestServer(t)

	conn, c := bind(t, srv)
	conn.Receive("0/nope,")
	c.loop.flush(t)

	errs := conn.PacketsOfType(parser.PacketTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "/nope", errs[0].Namespace)
	assert.Equal(t, "Invalid namespace", errs[0].Data)
	assert.Equal(t, ErrUnknownNamespace.Error(), errs[0].Data)
	assert.Empty(t, c.Sockets())
	assert.Equal(t, engineio.StateOpen, conn.ReadyState())
}

func TestRepeatedConnectResendsAck(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	conn, c, s := join(t, srv, "/chat")
	conn.Receive("0/chat,")
	c.loop.flush(t)

	assert.Equal(t, 1, ns.Len())
	acks := conn.PacketsOfType(parser.PacketTypeConnect)
	require.Len(t, acks, 2)
	assert.Equal(t, map[string]any{"sid": s.ID()}, acks[1].Data)
}

func TestBroadcastExceptDoesNotPersist(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	connA, _, a := join(t, srv, "/chat")
	connB, _, b := join(t, srv, "/chat")
	connC, _, _ := join(t, srv, "/chat")

	require.NoError(t, ns.Except(a.ID(), b.ID()).Broadcast("x", 1))
	require.NoError(t, ns.Broadcast("y", "all"))

	assert.Empty(t, connA.Events("x"))
	assert.Empty(t, connB.Events("x"))
	require.Len(t, connC.Events("x"), 1)
	assert.Equal(t, []any{float64(1)}, eventArgs(connC.Events("x")[0]))

	for _, conn := range []*kissiotest.Conn{connA, connB, connC} {
		require.Len(t, conn.Events("y"), 1)
		assert.Equal(t, "/chat", conn.Events("y")[0].Namespace)
	}
}

func TestBroadcastOperatorIsCallScoped(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")
	_, _, a := join(t, srv, "/chat")

	op := ns.Except(a.ID())
	wider := op.Except("other")

	assert.Equal(t, []string{a.ID()}, op.Options().Except)
	assert.Equal(t, []string{a.ID(), "other"}, wider.Options().Except)
	assert.True(t, op.Options().Compress)
	assert.False(t, op.Options().Volatile)
	assert.True(t, op.Volatile().Options().Volatile)
	assert.False(t, op.Options().Volatile)
}

func TestSocketBroadcastExcludesSelf(t *testing.T) {
	srv := newTestServer(t)
	srv.Of("/chat")

	connA, _, a := join(t, srv, "/chat")
	connB, _, _ := join(t, srv, "/chat")

	require.NoError(t, a.Broadcast("hello"))

	assert.Empty(t, connA.Events("hello"))
	assert.Len(t, connB.Events("hello"), 1)
}

func TestBroadcastRejectsAckAndReservedEvents(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	assert.ErrorIs(t, ns.Broadcast("x", func(...any) {}), ErrBroadcastAck)
	assert.ErrorIs(t, ns.Broadcast(EventDisconnect), ErrReservedEvent)
}

func TestVolatileBroadcastSkipsUnwritableConnections(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	connA, _, _ := join(t, srv, "/chat")
	connB, _, _ := join(t, srv, "/chat")
	connB.SetWritable(false)

	require.NoError(t, ns.Except().Volatile().Broadcast("tick"))

	assert.Len(t, connA.Events("tick"), 1)
	assert.Empty(t, connB.Events("tick"))
}

func TestNamespaceSendBroadcastsMessage(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")
	conn, _, _ := join(t, srv, "/chat")

	require.NoError(t, ns.Send("hi"))

	require.Len(t, conn.Events(EventMessage), 1)
	assert.Equal(t, []any{"hi"}, eventArgs(conn.Events(EventMessage)[0]))
}

func TestNamespaceLocalsAndConfigure(t *testing.T) {
	ns := NewNamespace("admin").Configure(func(ns *Namespace) {
		ns.Set("motd", "hello")
	})

	v, ok := ns.Get("motd")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, "/admin", ns.Name())

	_, ok = ns.Get("missing")
	assert.False(t, ok)
}

type listPlugin struct {
	router *Router
}

func (p listPlugin) Exports() Exports {
	return Exports{
		Namespace: map[string]NamespaceCapability{
			"name": func(ns *Namespace) any { return ns.Name() },
		},
		Socket: map[string]SocketCapability{
			"list": func(*Socket) any { return &[]string{} },
		},
		Router: p.router,
	}
}

func TestPluginSocketCapabilitiesAreIndependent(t *testing.T) {
	srv := newTestServer(t)
	ns := srv.Of("/chat")

	var pings int
	router := NewRouter()
	router.On("ping", func(ctx *Context, _ ...any) {
		pings++
		ctx.Next(nil)
	})
	ns.Plug(listPlugin{router: router})

	name, ok := ns.Capability("name")
	require.True(t, ok)
	assert.Equal(t, "/chat", name)

	connA, cA, a := join(t, srv, "/chat")
	_, _, b := join(t, srv, "/chat")

	va, ok := a.Capability("list")
	require.True(t, ok)
	vb, ok := b.Capability("list")
	require.True(t, ok)

	la := va.(*[]string)
	*la = append(*la, "room1")
	assert.Empty(t, *vb.(*[]string))

	connA.Receive(`2/chat,["ping"]`)
	cA.loop.flush(t)
	assert.Equal(t, 1, pings)
}

func TestPlugFuncPassesOptions(t *testing.T) {
	ns := NewNamespace("/chat")

	var gotOpts any
	ns.PlugFunc(func(ns *Namespace, opts any) Plugin {
		gotOpts = opts
		return listPlugin{}
	}, "opts")

	assert.Equal(t, "opts", gotOpts)
	assert.Len(t, ns.Plugins(), 1)
}

func TestNamespaceUsePlugin(t *testing.T) {
	ns := NewNamespace("/chat")
	ns.Use(listPlugin{})

	assert.Len(t, ns.Plugins(), 1)
	_, ok := ns.Capability("name")
	assert.True(t, ok)
}
