package kissio

import "github.com/ramory-l/kissio/parser"

// Adapter delivers broadcasts to the sockets of one namespace. It may also
// relay them to other server instances.
type Adapter interface {
	// Broadcast sends packet to every connected socket not listed in opts.Except.
	Broadcast(packet *parser.Packet, opts BroadcastOptions) error

	// Close cleans up the adapter
	Close() error
}
