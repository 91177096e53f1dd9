package engineio

import (
	"encoding/json"
	"errors"
	"fmt"
)

// frameType is the leading byte of every Engine.IO v4 frame. Types travel
// as ASCII digits.
type frameType byte

const (
	frameOpen    frameType = '0'
	frameClose   frameType = '1'
	framePing    frameType = '2'
	framePong    frameType = '3'
	frameMessage frameType = '4'
	frameUpgrade frameType = '5'
	frameNoop    frameType = '6'
)

var ErrMalformedFrame = errors.New("malformed engine.io frame")

var frameNames = map[frameType]string{
	frameOpen:    "open",
	frameClose:   "close",
	framePing:    "ping",
	framePong:    "pong",
	frameMessage: "message",
	frameUpgrade: "upgrade",
	frameNoop:    "noop",
}

func (t frameType) String() string {
	if name, ok := frameNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%q)", byte(t))
}

// appendFrame writes the frame of type t carrying payload to dst.
func appendFrame(dst []byte, t frameType, payload []byte) []byte {
	dst = append(dst, byte(t))
	return append(dst, payload...)
}

// parseFrame splits a websocket text message into its type and payload.
// The payload aliases data.
func parseFrame(data []byte) (frameType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty", ErrMalformedFrame)
	}

	t := frameType(data[0])
	if _, ok := frameNames[t]; !ok {
		return 0, nil, fmt.Errorf("%w: type %q", ErrMalformedFrame, data[0])
	}
	return t, data[1:], nil
}

// OpenPayload is the JSON body of the open frame sent once a session is
// accepted. Durations are in milliseconds.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// openFrame builds the open frame for sid. The transport is websocket-only,
// so no upgrades are offered.
func openFrame(sid string, cfg *Config) ([]byte, error) {
	payload, err := json.Marshal(OpenPayload{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: cfg.PingInterval.Milliseconds(),
		PingTimeout:  cfg.PingTimeout.Milliseconds(),
		MaxPayload:   cfg.MaxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode open payload: %w", err)
	}
	return appendFrame(nil, frameOpen, payload), nil
}
