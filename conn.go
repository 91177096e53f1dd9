package kissio

import "github.com/ramory-l/kissio/engineio"

// Conn is the transport connection a Client is bound to.
// *engineio.Session implements it.
type Conn interface {
	ID() string
	ReadyState() engineio.ReadyState
	Request() *engineio.Request
	Write(frame []byte, opts engineio.WriteOptions) error
	// Writable reports whether a write would be accepted right now.
	Writable() bool
	OnMessage(fn func([]byte))
	OnError(fn func(error))
	OnClose(fn func(reason string))
	Close(reason string)
}

var _ Conn = (*engineio.Session)(nil)
