package parser

import "sync"

// Encoder turns a packet into one or more transport frames.
type Encoder interface {
	Encode(packet *Packet) ([][]byte, error)
}

// Decoder consumes raw frames and reports every fully decoded packet
// to the callback registered with OnDecoded.
type Decoder interface {
	Add(frame []byte) error
	OnDecoded(fn func(*Packet))
	Destroy()
}

// Parser creates the encoder/decoder pair owned by one connection.
type Parser interface {
	NewEncoder() Encoder
	NewDecoder() Decoder
}

// TextParser is the default Parser: one text frame per packet.
type TextParser struct{}

// NewEncoder returns a TextEncoder.
func (TextParser) NewEncoder() Encoder { return TextEncoder{} }

// NewDecoder returns a fresh TextDecoder.
func (TextParser) NewDecoder() Decoder { return &TextDecoder{} }

// TextEncoder encodes packets with Packet.Encode.
type TextEncoder struct{}

// Encode implements Encoder.
func (TextEncoder) Encode(packet *Packet) ([][]byte, error) {
	encoded, err := packet.Encode()
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(encoded)}, nil
}

// TextDecoder decodes one packet per frame.
type TextDecoder struct {
	mu        sync.Mutex
	onDecoded func(*Packet)
}

// OnDecoded sets the packet callback.
func (d *TextDecoder) OnDecoded(fn func(*Packet)) {
	d.mu.Lock()
	d.onDecoded = fn
	d.mu.Unlock()
}

// Add decodes frame and hands the packet to the callback.
func (d *TextDecoder) Add(frame []byte) error {
	packet, err := DecodePacket(string(frame))
	if err != nil {
		return err
	}

	d.mu.Lock()
	fn := d.onDecoded
	d.mu.Unlock()

	if fn != nil {
		fn(packet)
	}
	return nil
}

// Destroy drops the callback; later frames are decoded and discarded.
func (d *TextDecoder) Destroy() {
	d.OnDecoded(nil)
}
