package correlator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/google/uuid"
)

var (
	ErrAccessRevoked = errors.New("correlator: access revoked")
	ErrSendFailed    = errors.New("correlator: send failed")
	ErrTimeout       = errors.New("correlator: reply timeout")
	ErrClosed        = errors.New("correlator: closed")
	ErrInvalidCount  = errors.New("correlator: expected reply count must be >= 1")
)

// DefaultTimeout is the reply window when Config leaves it unset.
const DefaultTimeout = 30 * time.Second

type Config struct {
	Timeout time.Duration
	// OnResolve, when set, is called once per resolved call outside the lock.
	OnResolve func(*Call)
}

// Expectation declares that a batch waits for Count replies matching Pattern.
type Expectation struct {
	Pattern protocol.MatchPattern
	Count   int
}

// PendingRequest is one outstanding expectation.
type PendingRequest struct {
	CallID     uuid.UUID
	Pattern    protocol.MatchPattern
	Expected   int
	Received   int
	Registered time.Time
	seq        uint64
}

type batch struct {
	call      *Call
	remaining int
	timer     *time.Timer
	requests  []*PendingRequest
}

// Correlator matches inbound replies to outstanding batches. Every batch
// resolves exactly once: all replies seen, a denied/error reply, timeout, an
// explicit Fail, or Close.
type Correlator struct {
	cfg Config

	mu      sync.Mutex
	seq     uint64
	pending []*PendingRequest
	batches map[uuid.UUID]*batch
	closed  bool
}

func New(cfg Config) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Correlator{
		cfg:     cfg,
		batches: make(map[uuid.UUID]*batch),
	}
}

func (c *Correlator) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Register opens a call for the given expectations. With no expectations the
// call is already resolved with an empty result.
func (c *Correlator) Register(expectations ...Expectation) (*Call, error) {
	for i, exp := range expectations {
		if exp.Count < 0 {
			return nil, fmt.Errorf("%w: expectations[%d]=%d", ErrInvalidCount, i, exp.Count)
		}
		if exp.Pattern.IsZero() {
			return nil, fmt.Errorf("%w: expectations[%d] empty pattern", protocol.ErrInvalidPattern, i)
		}
	}

	call := newCall(uuid.New())
	if len(expectations) == 0 {
		call.resolve(nil, nil)
		c.notify(call)
		return call, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	now := time.Now()
	b := &batch{call: call}
	for _, exp := range expectations {
		count := exp.Count
		if count == 0 {
			count = 1
		}
		c.seq++
		req := &PendingRequest{
			CallID:     call.id,
			Pattern:    exp.Pattern,
			Expected:   count,
			Registered: now,
			seq:        c.seq,
		}
		b.requests = append(b.requests, req)
		b.remaining += count
		c.pending = append(c.pending, req)
	}
	c.batches[call.id] = b
	id := call.id
	b.timer = time.AfterFunc(c.cfg.Timeout, func() { c.expire(id) })
	c.mu.Unlock()

	logging.Debugf("correlator.Correlator.Register call_id=%s expectations=%d timeout=%s", id, len(expectations), c.cfg.Timeout)
	return call, nil
}

// Matches reports whether address would be consumed by an active expectation.
func (c *Correlator) Matches(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bestMatchLocked(address) != nil
}

// Observe offers an inbound message. It returns true when the message was
// consumed by an outstanding expectation. Replies for expired or unknown
// calls return false and have no effect.
func (c *Correlator) Observe(msg protocol.Message) bool {
	c.mu.Lock()
	req := c.bestMatchLocked(msg.Address())
	if req == nil {
		c.mu.Unlock()
		return false
	}
	b := c.batches[req.CallID]

	req.Received++
	if req.Received >= req.Expected {
		c.removePendingLocked(req)
	}
	b.remaining--

	reply, err := protocol.DecodeReply(msg)
	var (
		finalErr error
		done     bool
	)
	switch r := reply.(type) {
	case nil:
		finalErr = fmt.Errorf("%w: %v", ErrSendFailed, err)
		done = true
	case protocol.ReplyDenied:
		finalErr = &protocol.CredentialError{Err: ErrAccessRevoked, Address: r.Source(), Data: r.Data}
		done = true
	case protocol.ReplyError:
		finalErr = fmt.Errorf("%w: address=%q data=%q", ErrSendFailed, r.Source(), r.Data)
		done = true
	case protocol.ReplyOK:
		b.call.replies = append(b.call.replies, r)
		done = b.remaining <= 0
	}
	if !done {
		remaining := b.remaining
		c.mu.Unlock()
		logging.Debugf("correlator.Correlator.Observe call_id=%s address=%q remaining=%d", req.CallID, msg.Address(), remaining)
		return true
	}
	call := c.finishLocked(req.CallID)
	c.mu.Unlock()

	if call != nil {
		call.resolve(call.replies, finalErr)
		c.notify(call)
	}
	return true
}

// Fail rejects call with err and drops its expectations. Used when the frame
// carrying the call never reached the engine.
func (c *Correlator) Fail(call *Call, err error) {
	if call == nil {
		return
	}
	c.mu.Lock()
	finished := c.finishLocked(call.id)
	c.mu.Unlock()
	if finished != nil {
		finished.resolve(nil, err)
		c.notify(finished)
	}
}

// FailAll rejects every outstanding call with err.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := make([]*Call, 0, len(c.batches))
	for id := range c.batches {
		if call := c.finishLocked(id); call != nil {
			calls = append(calls, call)
		}
	}
	c.mu.Unlock()
	for _, call := range calls {
		call.resolve(nil, err)
		c.notify(call)
	}
	return len(calls)
}

// Close rejects outstanding calls with ErrClosed and refuses new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.FailAll(ErrClosed)
}

// Pending reports the number of active expectations.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Calls reports the number of unresolved calls.
func (c *Correlator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// Snapshot lists active expectations, oldest first.
func (c *Correlator) Snapshot() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingRequest, 0, len(c.pending))
	for _, req := range c.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (c *Correlator) expire(id uuid.UUID) {
	c.mu.Lock()
	b, ok := c.batches[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	patterns := make([]string, 0, len(b.requests))
	for _, req := range b.requests {
		if req.Received < req.Expected {
			patterns = append(patterns, req.Pattern.String())
		}
	}
	call := c.finishLocked(id)
	c.mu.Unlock()

	if call != nil {
		logging.Warnf("correlator.Correlator.expire call_id=%s timeout=%s waiting=%q", id, c.cfg.Timeout, patterns)
		call.resolve(call.replies, fmt.Errorf("%w: after %s waiting on %v", ErrTimeout, c.cfg.Timeout, patterns))
		c.notify(call)
	}
}

// bestMatchLocked applies the specificity rule: the most specific matching
// pattern wins, ties go to the oldest registration.
func (c *Correlator) bestMatchLocked(address string) *PendingRequest {
	var best *PendingRequest
	for _, req := range c.pending {
		if !req.Pattern.Matches(address) {
			continue
		}
		if best == nil || req.Pattern.MoreSpecificThan(best.Pattern) ||
			(req.Pattern.Specificity() == best.Pattern.Specificity() && req.seq < best.seq) {
			best = req
		}
	}
	return best
}

func (c *Correlator) removePendingLocked(target *PendingRequest) {
	for i, req := range c.pending {
		if req == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// finishLocked removes a batch and its remaining expectations. It returns nil
// when the batch was already finished.
func (c *Correlator) finishLocked(id uuid.UUID) *Call {
	b, ok := c.batches[id]
	if !ok {
		return nil
	}
	delete(c.batches, id)
	if b.timer != nil {
		b.timer.Stop()
	}
	kept := c.pending[:0]
	for _, req := range c.pending {
		if req.CallID != id {
			kept = append(kept, req)
		}
	}
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = kept
	return b.call
}

func (c *Correlator) notify(call *Call) {
	if c.cfg.OnResolve != nil {
		c.cfg.OnResolve(call)
	}
}
