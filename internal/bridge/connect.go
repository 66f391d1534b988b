package bridge

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/observability"
	"github.com/danmuck/cuebridge/internal/protocol/session"
	"github.com/danmuck/cuebridge/internal/relay"
	"github.com/danmuck/cuebridge/internal/transport"
	"github.com/danmuck/cuebridge/internal/transport/udp"
)

func newRelay(cfg ServiceConfig, metrics *observability.Metrics) (*relay.Relay, error) {
	sess, err := session.New(cfg.Dictionary, strings.TrimSpace(cfg.Engine.Host), cfg.Engine.Port)
	if err != nil {
		return nil, err
	}
	corr := correlator.New(correlator.Config{Timeout: cfg.Session.ReplyTimeout})
	return relay.New(relay.ConfigFromSession(cfg.Session), sess, corr, metrics), nil
}

// Connect opens an authenticated engine channel with no client listener, for
// one-shot commands such as cue pushes. The caller closes the relay.
func Connect(ctx context.Context, cfg ServiceConfig) (*relay.Relay, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	r, err := newRelay(cfg, nil)
	if err != nil {
		return nil, err
	}
	engine, err := udp.Open(ctx, cfg.Engine, r)
	if err != nil {
		return nil, err
	}
	r.Attach(transport.SideEngine, engine)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := authenticate(ctx, r, cfg, rng); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
