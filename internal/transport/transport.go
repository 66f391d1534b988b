package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTransport = errors.New("transport: channel error")
	ErrClosed    = errors.New("transport: channel closed")
)

// Side names one face of the relay.
type Side int

const (
	SideClient Side = iota
	SideEngine
)

func (s Side) String() string {
	switch s {
	case SideClient:
		return "client"
	case SideEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Opposite is the side a frame from s is forwarded to.
func (s Side) Opposite() Side {
	if s == SideClient {
		return SideEngine
	}
	return SideClient
}

// Channel is an outbound, framed, ordered path to one side. One Send call
// writes exactly one frame.
type Channel interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Handler receives inbound frames and channel failures from an adapter.
type Handler interface {
	OnFrame(side Side, frame []byte)
	OnError(side Side, err error)
}

// Error is a channel failure on one side. It matches ErrTransport and its
// cause under errors.Is.
type Error struct {
	Side Side
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: side=%s: %v", ErrTransport, e.Side, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Wrap tags err as a transport failure on side, keeping the cause.
func Wrap(side Side, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) {
		return err
	}
	return &Error{Side: side, Err: err}
}

// SideOf reports which side a transport failure came from.
func SideOf(err error) (Side, bool) {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Side, true
	}
	return 0, false
}
