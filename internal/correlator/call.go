package correlator

import (
	"context"
	"sync"

	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/google/uuid"
)

// Call is the handle returned for one sent batch. It completes exactly once.
type Call struct {
	id   uuid.UUID
	done chan struct{}
	once sync.Once

	// replies accumulates under the correlator lock until resolve.
	replies []protocol.ReplyOK

	result []protocol.ReplyOK
	err    error
}

func newCall(id uuid.UUID) *Call {
	return &Call{id: id, done: make(chan struct{})}
}

func (c *Call) ID() uuid.UUID {
	return c.id
}

// Done is closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves or ctx ends. Replies are in arrival
// order. A ctx error only stops the wait; the call still resolves on its own.
func (c *Call) Wait(ctx context.Context) ([]protocol.ReplyOK, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; before resolution it returns
// (nil, nil) and Resolved reports false.
func (c *Call) Result() ([]protocol.ReplyOK, error) {
	if !c.Resolved() {
		return nil, nil
	}
	out := make([]protocol.ReplyOK, len(c.result))
	copy(out, c.result)
	return out, c.err
}

func (c *Call) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the terminal error once resolved.
func (c *Call) Err() error {
	if !c.Resolved() {
		return nil
	}
	return c.err
}

func (c *Call) resolve(replies []protocol.ReplyOK, err error) {
	c.once.Do(func() {
		c.result = replies
		c.err = err
		close(c.done)
	})
}
