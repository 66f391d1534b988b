package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/observability"
	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/danmuck/cuebridge/internal/protocol/session"
	"github.com/danmuck/cuebridge/internal/transport"
)

var (
	ErrNotAttached = errors.New("relay: channel not attached")
	ErrNoRequests  = errors.New("relay: no requests")
)

const defaultErrorBuffer = 32

type Config struct {
	// WriteTimeout bounds one frame write when the caller's ctx allows longer.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds Authenticate.
	HandshakeTimeout time.Duration
	// ErrorBuffer sizes the Errors channel; overflow is logged and dropped.
	ErrorBuffer int
}

// ConfigFromSession carries the session timeouts into a relay config.
func ConfigFromSession(cfg session.Config) Config {
	cfg = cfg.WithDefaults()
	return Config{WriteTimeout: cfg.WriteTimeout, HandshakeTimeout: cfg.HandshakeTimeout}
}

func (c Config) WithDefaults() Config {
	defaults := session.DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = defaultErrorBuffer
	}
	return c
}

// Relay bridges the client and engine channels. Outbound requests register
// reply expectations with the correlator; inbound engine replies that match
// are consumed, and every other message is forwarded to the opposite side.
type Relay struct {
	cfg     Config
	session *session.Session
	corr    *correlator.Correlator
	metrics *observability.Metrics

	mu       sync.RWMutex
	channels map[transport.Side]transport.Channel

	errs      chan error
	closeOnce sync.Once
}

func New(cfg Config, sess *session.Session, corr *correlator.Correlator, metrics *observability.Metrics) *Relay {
	cfg = cfg.WithDefaults()
	return &Relay{
		cfg:      cfg,
		session:  sess,
		corr:     corr,
		metrics:  metrics,
		channels: make(map[transport.Side]transport.Channel, 2),
		errs:     make(chan error, cfg.ErrorBuffer),
	}
}

func (r *Relay) Session() *session.Session {
	return r.session
}

func (r *Relay) Correlator() *correlator.Correlator {
	return r.corr
}

// Attach installs the outbound channel for side, replacing any previous one.
func (r *Relay) Attach(side transport.Side, ch transport.Channel) {
	r.mu.Lock()
	r.channels[side] = ch
	r.mu.Unlock()
	logging.Debugf("relay.Relay.Attach side=%s", side)
}

func (r *Relay) channel(side transport.Side) (transport.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[side]
	return ch, ok && ch != nil
}

// Errors reports transport failures from either side. The relay keeps
// running after reporting.
func (r *Relay) Errors() <-chan error {
	return r.errs
}

// OnFrame implements transport.Handler.
func (r *Relay) OnFrame(side transport.Side, frame []byte) {
	if err := r.Forward(side, frame); err != nil {
		r.report(err)
	}
}

// OnError implements transport.Handler. An engine failure rejects every
// in-flight call, since none of their replies can arrive any more.
func (r *Relay) OnError(side transport.Side, err error) {
	err = transport.Wrap(side, err)
	logging.Errf("relay.Relay.OnError side=%s err=%v", side, err)
	if side == transport.SideEngine {
		if n := r.corr.FailAll(err); n > 0 {
			logging.Warnf("relay.Relay.OnError failed in-flight calls=%d", n)
		}
		r.metrics.SetPending(r.corr.Pending())
	}
	r.report(err)
}

// Forward dispatches one inbound frame from side. Engine replies matching an
// active expectation are consumed; everything else goes to the opposite side
// in one frame. A bundle is forwarded untouched when nothing was consumed,
// re-encoded without the consumed elements when some were, and dropped when
// all were.
func (r *Relay) Forward(side transport.Side, frame []byte) error {
	packet, err := protocol.Decode(frame)
	if err != nil {
		logging.Warnf("relay.Relay.Forward undecodable side=%s bytes=%d err=%v", side, len(frame), err)
		r.metrics.RecordFrame(side.String(), observability.ActionUndecoded)
		return r.deliver(side.Opposite(), frame)
	}

	dict := r.session.Dictionary()
	rest := make([]protocol.Message, 0, len(packet.Messages))
	consumed := 0
	for _, msg := range packet.Messages {
		address := msg.Address()
		switch {
		case side == transport.SideEngine && dict.IsReply(address) && r.corr.Observe(msg):
			consumed++
			r.metrics.RecordFrame(side.String(), observability.ActionConsumed)
			logging.Debugf("relay.Relay.Forward consumed address=%q", address)
		case r.session.IsTargetAddress(address):
			rest = append(rest, msg)
			r.metrics.RecordFrame(side.String(), observability.ActionForwarded)
		default:
			rest = append(rest, msg)
			r.metrics.RecordFrame(side.String(), observability.ActionUnmatched)
			logging.Infof("relay.Relay.Forward unmatched side=%s address=%q", side, address)
		}
	}
	if consumed > 0 {
		r.metrics.SetPending(r.corr.Pending())
	}

	switch {
	case len(rest) == 0:
		return nil
	case consumed == 0:
		return r.deliver(side.Opposite(), frame)
	}
	out, err := protocol.Encode(protocol.Packet{Messages: rest, Bundled: packet.Bundled})
	if err != nil {
		return fmt.Errorf("relay: re-encode remainder: %w", err)
	}
	return r.deliver(side.Opposite(), out)
}

func (r *Relay) deliver(to transport.Side, frame []byte) error {
	ch, ok := r.channel(to)
	if !ok {
		r.metrics.RecordFrame(to.String(), observability.ActionDropped)
		logging.Warnf("relay.Relay.deliver dropped side=%s bytes=%d: no channel", to, len(frame))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	if err := ch.Send(ctx, frame); err != nil {
		return transport.Wrap(to, err)
	}
	return nil
}

// Send resolves, registers and writes reqs as one frame to the engine. It
// does not wait for replies; the returned Call resolves once every
// reply-expecting request has been answered, or on the first denied or error
// reply, or on timeout.
func (r *Relay) Send(ctx context.Context, reqs ...protocol.Request) (*correlator.Call, error) {
	if len(reqs) == 0 {
		return nil, ErrNoRequests
	}
	ch, ok := r.channel(transport.SideEngine)
	if !ok {
		return nil, transport.Wrap(transport.SideEngine, ErrNotAttached)
	}

	dict := r.session.Dictionary()
	messages := make([]protocol.Message, 0, len(reqs))
	expectations := make([]correlator.Expectation, 0, len(reqs))
	for i, req := range reqs {
		msg := req.Message
		if msg.IsZero() {
			return nil, fmt.Errorf("%w: requests[%d] has no address", protocol.ErrInvalidAddress, i)
		}
		if req.Scoped {
			address, err := r.session.TargetAddress(msg.Address())
			if err != nil {
				return nil, err
			}
			if msg, err = msg.WithAddress(address); err != nil {
				return nil, err
			}
		}
		messages = append(messages, msg)
		if req.ExpectReply {
			expectations = append(expectations, correlator.Expectation{Pattern: dict.ReplyPattern(msg.Address())})
		}
	}

	frame, err := protocol.EncodeMessages(messages...)
	if err != nil {
		return nil, err
	}

	// Expectations are registered before the write so a fast reply cannot
	// arrive ahead of its pattern.
	start := time.Now()
	call, err := r.corr.Register(expectations...)
	if err != nil {
		return nil, err
	}
	r.metrics.SetPending(r.corr.Pending())
	go r.track(call, start)

	wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()
	if err := ch.Send(wctx, frame); err != nil {
		err = transport.Wrap(transport.SideEngine, err)
		r.corr.Fail(call, err)
		r.metrics.SetPending(r.corr.Pending())
		return nil, err
	}
	r.metrics.RecordFrame(transport.SideEngine.String(), observability.ActionSent)
	logging.Debugf(
		"relay.Relay.Send call_id=%s messages=%d expectations=%d bytes=%d",
		call.ID(),
		len(messages),
		len(expectations),
		len(frame),
	)
	return call, nil
}

// SendAndWait is Send followed by Call.Wait. If ctx ends first the call is
// abandoned and its expectations are dropped.
func (r *Relay) SendAndWait(ctx context.Context, reqs ...protocol.Request) ([]protocol.ReplyOK, error) {
	call, err := r.Send(ctx, reqs...)
	if err != nil {
		return nil, err
	}
	replies, err := call.Wait(ctx)
	if err != nil && !call.Resolved() {
		// Nobody is left waiting; free the patterns so a retry is not
		// shadowed by an older expectation.
		r.corr.Fail(call, err)
	}
	return replies, err
}

// Authenticate runs the session handshake with the relay as sender. A
// handshake that outlives HandshakeTimeout fails with correlator.ErrTimeout.
func (r *Relay) Authenticate(ctx context.Context, password string) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	defer cancel()
	id, err := r.session.Authenticate(hctx, r, password)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w: no connect reply within %s: %w", correlator.ErrTimeout, r.cfg.HandshakeTimeout, err)
	}
	return id, err
}

// Close rejects outstanding calls and closes both channels.
func (r *Relay) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		r.corr.Close()
		r.metrics.SetPending(0)

		r.mu.Lock()
		channels := r.channels
		r.channels = make(map[transport.Side]transport.Channel, 2)
		r.mu.Unlock()
		for side, ch := range channels {
			if ch == nil {
				continue
			}
			if err := ch.Close(); err != nil {
				errs = append(errs, transport.Wrap(side, err))
			}
		}
		logging.Infof("relay.Relay.Close channels=%d", len(channels))
	})
	return errors.Join(errs...)
}

func (r *Relay) track(call *correlator.Call, start time.Time) {
	<-call.Done()
	outcome := Outcome(call.Err())
	r.metrics.RecordCall(outcome, time.Since(start))
	r.metrics.SetPending(r.corr.Pending())
	if outcome != OutcomeOK {
		logging.Warnf("relay.Relay.track call_id=%s outcome=%s err=%v", call.ID(), outcome, call.Err())
	}
}

func (r *Relay) report(err error) {
	select {
	case r.errs <- err:
	default:
		logging.Warnf("relay.Relay.report errors channel full, dropped err=%v", err)
	}
}
