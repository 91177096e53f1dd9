// Package kissio is a Socket.IO realtime middleware built around explicit
// routers.
//
// A Server multiplexes namespaces over engine.io websocket connections. Each
// connection is a Client that owns one Socket per namespace it joined.
// Namespaces run an ordered middleware chain before admitting a socket and
// dispatch incoming events through a Router whose routes are continuation
// chains of handlers.
//
// # Quick Start
//
//	server := kissio.NewServer(nil)
//
//	chat := server.Of("/chat")
//	chat.Use(func(s *kissio.Socket, next func(error)) {
//	    next(nil)
//	})
//	chat.On("message", func(ctx *kissio.Context, args ...any) {
//	    _ = ctx.Socket.Broadcast("message", args...)
//	    ctx.Next(nil)
//	})
//
//	http.Handle("/socket.io/", server)
//	http.ListenAndServe(":3000", nil)
//
// # Routers
//
// Routers can be built separately and mounted on a namespace. Routes with
// the same event name are merged in registration order.
//
//	router := kissio.NewRouter()
//	router.On("join", auth, join).Expects("room")
//	chat.Use(router)
//
// A handler must call ctx.Next exactly once, from any goroutine. A non-nil
// error aborts the chain and is delivered to the socket's "error" route.
//
// # Plugins
//
// Plugins contribute capabilities and routes to a namespace and to every
// socket admitted to it. See package rooms for the room plugin.
//
// # Acknowledgements
//
// A trailing func(...any) argument to Socket.Emit requests an ack. For
// incoming events that request one, the last handler argument is an AckFunc;
// only its first call is sent.
//
// # Concurrency
//
// Transport callbacks, middleware continuations and disconnect hooks of one
// client run on that client's scheduler goroutine in order. Different
// clients run in parallel.
package kissio
