package redisadapter

import (
	"encoding/json"
	"fmt"

	"github.com/ramory-l/kissio"
	"github.com/ramory-l/kissio/parser"
)

// envelope is one broadcast as published on the channel.
type envelope struct {
	Node      string            `json:"node"`
	Namespace string            `json:"nsp"`
	Type      parser.PacketType `json:"type"`
	Data      any               `json:"data,omitempty"`
	Except    []string          `json:"except,omitempty"`
	Volatile  bool              `json:"volatile,omitempty"`
	Compress  bool              `json:"compress,omitempty"`
}

func newEnvelope(node string, packet *parser.Packet, opts kissio.BroadcastOptions) envelope {
	return envelope{
		Node:      node,
		Namespace: packet.Namespace,
		Type:      packet.Type,
		Data:      packet.Data,
		Except:    opts.Except,
		Volatile:  opts.Volatile,
		Compress:  opts.Compress,
	}
}

func (e envelope) packet() *parser.Packet {
	return &parser.Packet{
		Type:      e.Type,
		Namespace: e.Namespace,
		Data:      e.Data,
	}
}

func (e envelope) options() kissio.BroadcastOptions {
	return kissio.BroadcastOptions{
		Except:   e.Except,
		Volatile: e.Volatile,
		Compress: e.Compress,
	}
}

func encodeEnvelope(e envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Node == "" || e.Namespace == "" {
		return envelope{}, fmt.Errorf("decode envelope: missing node or namespace")
	}
	return e, nil
}
