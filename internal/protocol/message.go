package protocol

import (
	"fmt"
	"strings"
)

// Message is one addressed control message. Values are immutable: the
// constructor copies its arguments and accessors return copies.
type Message struct {
	address string
	args    []any
}

// NewMessage validates address and normalizes args to their wire types.
// Accepted argument kinds are strings and numbers; Go ints become int32 and
// float64 becomes float32 so the engine sees the same tags it would from any
// other OSC client.
func NewMessage(address string, args ...any) (Message, error) {
	if err := ValidateAddress(address); err != nil {
		return Message{}, err
	}
	normalized := make([]any, 0, len(args))
	for i, arg := range args {
		v, err := normalizeArg(arg)
		if err != nil {
			return Message{}, fmt.Errorf("%w: args[%d] %T", ErrInvalidArgument, i, arg)
		}
		normalized = append(normalized, v)
	}
	return Message{address: address, args: normalized}, nil
}

// MustMessage is NewMessage for addresses and args known at compile time.
func MustMessage(address string, args ...any) Message {
	msg, err := NewMessage(address, args...)
	if err != nil {
		panic(err)
	}
	return msg
}

// decodedMessage wraps whatever the codec produced without narrowing the
// argument kinds; inbound traffic is forwarded, not judged.
func decodedMessage(address string, args []any) Message {
	copied := make([]any, len(args))
	copy(copied, args)
	return Message{address: address, args: copied}
}

func (m Message) Address() string {
	return m.address
}

func (m Message) Args() []any {
	out := make([]any, len(m.args))
	copy(out, m.args)
	return out
}

func (m Message) NumArgs() int {
	return len(m.args)
}

// Arg returns args[i] and whether it exists.
func (m Message) Arg(i int) (any, bool) {
	if i < 0 || i >= len(m.args) {
		return nil, false
	}
	return m.args[i], true
}

// StringArg returns args[i] when it is a string.
func (m Message) StringArg(i int) (string, bool) {
	v, ok := m.Arg(i)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// WithAddress returns a copy of m sent to a different address.
func (m Message) WithAddress(address string) (Message, error) {
	if err := ValidateAddress(address); err != nil {
		return Message{}, err
	}
	return decodedMessage(address, m.args), nil
}

func (m Message) IsZero() bool {
	return m.address == ""
}

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.address)
	for _, arg := range m.args {
		b.WriteByte(' ')
		switch v := arg.(type) {
		case string:
			fmt.Fprintf(&b, "%q", v)
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	return b.String()
}

// Request is an outbound message plus the relay-side instructions that never
// reach the wire.
type Request struct {
	Message Message
	// ExpectReply registers a reply expectation at ReplyPrefix+address+"/*".
	ExpectReply bool
	// Scoped prefixes the address with the authenticated workspace root.
	Scoped bool
}

// ValidateAddress enforces the slash-delimited path shape.
func ValidateAddress(address string) error {
	if address == "" || address[0] != '/' {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidAddress, address)
	}
	if strings.ContainsAny(address, " #,") {
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidAddress, address)
	}
	return nil
}

func normalizeArg(arg any) (any, error) {
	switch v := arg.(type) {
	case string:
		return v, nil
	case int:
		return int32(v), nil
	case int32:
		return v, nil
	case int64:
		return v, nil
	case float32:
		return v, nil
	case float64:
		return float32(v), nil
	default:
		return nil, ErrInvalidArgument
	}
}
