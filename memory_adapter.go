package kissio

import (
	"github.com/ramory-l/kissio/parser"
)

// MemoryAdapter is the in-process Adapter. It encodes a broadcast once and
// writes the frames to every target socket's connection.
type MemoryAdapter struct {
	namespace *Namespace
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter(namespace *Namespace) *MemoryAdapter {
	return &MemoryAdapter{namespace: namespace}
}

// Broadcast implements Adapter. The target set is the namespace registry at
// call time minus opts.Except.
func (a *MemoryAdapter) Broadcast(packet *parser.Packet, opts BroadcastOptions) error {
	// Build exclusion map
	exclude := make(map[string]struct{}, len(opts.Except))
	for _, sid := range opts.Except {
		exclude[sid] = struct{}{}
	}

	targets := make([]*Socket, 0, a.namespace.Len())
	for _, s := range a.namespace.Sockets() {
		if _, skip := exclude[s.ID()]; skip {
			continue
		}
		targets = append(targets, s)
	}

	if len(targets) == 0 {
		return nil
	}

	packet.Namespace = a.namespace.Name()
	frames, err := a.namespace.Encoder().Encode(packet)
	if err != nil {
		return err
	}

	popts := packetOptions{
		volatile:   opts.Volatile,
		compress:   opts.Compress,
		preEncoded: frames,
	}
	for _, s := range targets {
		if !s.Connected() {
			continue
		}
		if err := s.client.packet(packet, popts); err != nil {
			s.logger.Debug("broadcast write failed", logKeyError, err)
		}
	}

	return nil
}

// Close implements Adapter.
func (a *MemoryAdapter) Close() error {
	return nil
}
