package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/observability"
	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/danmuck/cuebridge/internal/protocol/session"
	"github.com/danmuck/cuebridge/internal/relay"
	"github.com/danmuck/cuebridge/internal/transport"
	"github.com/danmuck/cuebridge/internal/transport/udp"
	"github.com/danmuck/cuebridge/internal/transport/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrListenAddrRequired = errors.New("bridge: listen address required")
	ErrAlreadyRunning     = errors.New("bridge: service already running")
)

const shutdownGrace = 5 * time.Second

// ServiceConfig configures one bridge process: one engine, one WebSocket
// listener.
type ServiceConfig struct {
	ListenAddr        string
	Engine            udp.Config
	Password          string
	Token             string
	AllowedOrigins    []string
	Metrics           bool
	HandshakeAttempts int
	HeartbeatInterval time.Duration
	Session           session.Config
	Dictionary        *protocol.Dictionary
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:        "127.0.0.1:8080",
		Engine:            udp.Config{Host: "localhost", Port: 53000},
		Metrics:           true,
		HandshakeAttempts: session.DefaultConfig().HandshakeAttempts,
		HeartbeatInterval: 30 * time.Second,
		Session:           session.DefaultConfig(),
	}
}

func (c ServiceConfig) WithDefaults() ServiceConfig {
	c.Session = c.Session.WithDefaults()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultServiceConfig().HeartbeatInterval
	}
	return c
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddrRequired
	}
	return c.Engine.Validate()
}

// Service runs the relay between WebSocket clients and the engine until its
// context ends.
type Service struct {
	cfg      ServiceConfig
	registry *prometheus.Registry
	metrics  *observability.Metrics
	relay    *relay.Relay
	hub      *ws.Hub
	rng      *rand.Rand

	mu       sync.Mutex
	running  bool
	listener net.Listener
	ready    chan struct{}
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	r, err := newRelay(cfg, metrics)
	if err != nil {
		return nil, err
	}
	hub := ws.NewHub(ws.Config{
		Token:          cfg.Token,
		WriteTimeout:   cfg.Session.WriteTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, r)
	r.Attach(transport.SideClient, hub)

	return &Service{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		relay:    r,
		hub:      hub,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ready:    make(chan struct{}),
	}, nil
}

func (s *Service) Relay() *relay.Relay {
	return s.relay
}

// Ready is closed once the engine handshake succeeded and the listener is up.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, nil before Ready.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext opens the engine channel, authenticates, and serves clients
// until ctx ends. A clean shutdown returns nil.
func (s *Service) RunContext(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer s.relay.Close()

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap(ctx context.Context) error {
	engine, err := udp.Open(ctx, s.cfg.Engine, s.relay)
	if err != nil {
		return err
	}
	s.relay.Attach(transport.SideEngine, engine)

	if err := s.authenticate(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	health := s.relay.Health()
	logging.Infof(
		"bridge.Service.bootstrap ready listen=%q engine=%q workspace_id=%q metrics=%v",
		listener.Addr().String(),
		health.Engine,
		health.WorkspaceID,
		s.cfg.Metrics,
	)
	return nil
}

func (s *Service) authenticate(ctx context.Context) error {
	return authenticate(ctx, s.relay, s.cfg, s.rng)
}

// authenticate retries the handshake on transport failures and timeouts, up
// to cfg.HandshakeAttempts, or until ctx ends when that is zero or less.
// Access denial is final.
func authenticate(ctx context.Context, r *relay.Relay, cfg ServiceConfig, rng *rand.Rand) error {
	for attempt := 1; ; attempt++ {
		_, err := r.Authenticate(ctx, cfg.Password)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) || (cfg.HandshakeAttempts > 0 && attempt >= cfg.HandshakeAttempts) {
			return fmt.Errorf("bridge: handshake failed after %d attempt(s): %w", attempt, err)
		}
		logging.Warnf(
			"bridge.authenticate attempt=%d/%d engine=%q err=%v",
			attempt,
			cfg.HandshakeAttempts,
			r.Session().EngineAddr(),
			err,
		)
		if err := session.SleepBackoff(ctx, cfg.Session.Backoff, attempt, rng); err != nil {
			return err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, transport.ErrTransport) ||
		errors.Is(err, correlator.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) serve(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge: http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not tracked by Shutdown.
		_ = s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("bridge.Service.serve shutdown incomplete err=%v", err)
			return srv.Close()
		}
		return nil
	})
	g.Go(func() error {
		return s.watch(gctx)
	})
	close(s.ready)

	err := g.Wait()
	logging.Infof("bridge.Service.serve shutdown err=%v", err)
	return err
}

// watch logs relay errors and a periodic heartbeat. A failed engine channel
// ends the service, since no reply can reach the relay any more.
func (s *Service) watch(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.relay.Errors():
			if side, ok := transport.SideOf(err); ok && side == transport.SideEngine {
				return err
			}
			logging.Warnf("bridge.Service.watch relay error err=%v", err)
		case <-ticker.C:
			h := s.relay.Health()
			logging.Infof(
				"bridge.Service.heartbeat workspace_id=%q pending=%d clients=%d",
				h.WorkspaceID,
				h.Pending,
				h.Clients,
			)
		}
	}
}
