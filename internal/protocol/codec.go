package protocol

import (
	"fmt"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

// Packet is one transport frame: a single message, or an ordered bundle.
type Packet struct {
	Messages []Message
	// Bundled records whether the frame was (or must be) an OSC bundle.
	Bundled bool
}

// NewPacket groups messages the way the engine expects: one message goes out
// unwrapped, two or more share a bundle.
func NewPacket(messages ...Message) Packet {
	out := make([]Message, len(messages))
	copy(out, messages)
	return Packet{Messages: out, Bundled: len(out) > 1}
}

// Encode renders p as a single OSC frame.
func Encode(p Packet) ([]byte, error) {
	if len(p.Messages) == 0 {
		return nil, ErrEmptyPacket
	}
	if !p.Bundled && len(p.Messages) == 1 {
		return toWire(p.Messages[0]).MarshalBinary()
	}
	// The zero time encodes the immediate time tag (1): the engine runs the
	// bundle on arrival whatever its clock says.
	bundle := osc.NewBundle(time.Time{})
	for _, msg := range p.Messages {
		if err := bundle.Append(toWire(msg)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
	}
	return bundle.MarshalBinary()
}

// EncodeMessages is Encode(NewPacket(messages...)).
func EncodeMessages(messages ...Message) ([]byte, error) {
	return Encode(NewPacket(messages...))
}

// Decode parses one OSC frame. Nested bundles are flattened depth-first after
// the enclosing bundle's own messages, which is the order the codec exposes.
func Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	parsed, err := osc.ParsePacket(string(frame))
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	switch p := parsed.(type) {
	case *osc.Message:
		return Packet{Messages: []Message{fromWire(p)}}, nil
	case *osc.Bundle:
		return Packet{Messages: flattenBundle(p, nil), Bundled: true}, nil
	default:
		return Packet{}, fmt.Errorf("%w: unsupported packet %T", ErrMalformedPacket, parsed)
	}
}

func flattenBundle(b *osc.Bundle, out []Message) []Message {
	for _, msg := range b.Messages {
		out = append(out, fromWire(msg))
	}
	for _, nested := range b.Bundles {
		out = flattenBundle(nested, out)
	}
	return out
}

func toWire(m Message) *osc.Message {
	return osc.NewMessage(m.address, m.args...)
}

func fromWire(m *osc.Message) Message {
	return decodedMessage(m.Address, m.Arguments)
}
