package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyPacket       = errors.New("empty packet")
	ErrInvalidPacket     = errors.New("invalid packet")
	ErrBinaryUnsupported = errors.New("binary attachments are not supported")
)

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

// DefaultNamespace is the namespace a packet belongs to when none is encoded.
const DefaultNamespace = "/"

// Packet represents a Socket.IO packet
type Packet struct {
	Type      PacketType
	Namespace string
	Data      any
	ID        *uint64
}

// HasID reports whether the packet carries an ack id.
func (p *Packet) HasID() bool {
	return p.ID != nil
}

// Encode encodes a Socket.IO packet to string
func (p *Packet) Encode() (string, error) {
	var builder strings.Builder

	// Packet type
	builder.WriteString(strconv.Itoa(int(p.Type)))

	// Binary packets announce their attachment count; we never produce any.
	if p.Type == PacketTypeBinaryEvent || p.Type == PacketTypeBinaryAck {
		builder.WriteString("0-")
	}

	// Namespace (if not default)
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	// Ack ID
	if p.ID != nil {
		builder.WriteString(strconv.FormatUint(*p.ID, 10))
	}

	// Data
	if p.Data != nil {
		jsonData, err := json.Marshal(p.Data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	return builder.String(), nil
}

// DecodePacket decodes a Socket.IO packet from string
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}

	packet := &Packet{
		Namespace: DefaultNamespace,
	}

	pos := 0

	// Parse packet type
	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidPacket, data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	// Attachment count
	if packet.Type == PacketTypeBinaryEvent || packet.Type == PacketTypeBinaryAck {
		end := strings.IndexByte(data[pos:], '-')
		if end == -1 {
			return nil, fmt.Errorf("%w: missing attachment count", ErrInvalidPacket)
		}
		n, err := strconv.Atoi(data[pos : pos+end])
		if err != nil {
			return nil, fmt.Errorf("%w: attachment count: %v", ErrInvalidPacket, err)
		}
		if n > 0 {
			return nil, ErrBinaryUnsupported
		}
		pos += end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	// Parse namespace
	if data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			// Namespace without data
			packet.Namespace = data[pos:]
			return packet, nil
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	// Parse ack ID
	if data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.ParseUint(data[pos:end], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ack id: %v", ErrInvalidPacket, err)
		}
		packet.ID = &id
		pos = end
	}

	if pos >= len(data) {
		return packet, nil
	}

	if err := json.Unmarshal([]byte(data[pos:]), &packet.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal packet data: %w", err)
	}

	return packet, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeError:
		return "error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}
