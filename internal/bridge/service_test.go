package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/cues"
	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/danmuck/cuebridge/internal/protocol/session"
	"github.com/danmuck/cuebridge/internal/relay"
	"github.com/danmuck/cuebridge/internal/testutil/testlog"
	"github.com/danmuck/cuebridge/internal/transport/udp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine answers /connect and reports every other packet it receives.
type fakeEngine struct {
	conn     *net.UDPConn
	data     string
	received chan protocol.Packet
	peer     chan *net.UDPAddr
}

func startFakeEngine(t *testing.T, data string) *fakeEngine {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	e := &fakeEngine{conn: conn, data: data, received: make(chan protocol.Packet, 16), peer: make(chan *net.UDPAddr, 1)}
	t.Cleanup(func() { _ = conn.Close() })
	go e.loop(t)
	return e
}

func (e *fakeEngine) port() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

func (e *fakeEngine) loop(t *testing.T) {
	buf := make([]byte, 65536)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		address := packet.Messages[0].Address()
		if strings.HasSuffix(address, "/new") {
			text, _ := protocol.EncodeReplyText(protocol.StatusOK, address, "W1", "CUE-1")
			frame, _ := protocol.EncodeMessages(protocol.MustMessage("/reply"+address, text))
			_, _ = e.conn.WriteToUDP(frame, from)
		}
		if address != "/connect" {
			e.received <- packet
			continue
		}
		text, _ := protocol.EncodeReplyText(protocol.StatusOK, "/connect", "W1", e.data)
		frame, _ := protocol.EncodeMessages(protocol.MustMessage("/reply/connect", text))
		_, _ = e.conn.WriteToUDP(frame, from)
		select {
		case e.peer <- from:
		default:
		}
	}
}

func testConfig(engine *fakeEngine) ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Engine = udp.Config{Host: "127.0.0.1", Port: engine.port(), LocalAddr: "127.0.0.1:0"}
	cfg.Password = "pw"
	cfg.HandshakeAttempts = 1
	cfg.Session.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestServiceRelaysBetweenClientAndEngine(t *testing.T) {
	testlog.Start(t)
	engine := startFakeEngine(t, "ok:view|edit|control")
	svc, err := NewServiceWithConfig(testConfig(engine))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-done:
		t.Fatalf("service exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("service not ready")
	}
	base := "http://" + svc.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var health relay.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, health.Authenticated)
	assert.Equal(t, "W1", health.WorkspaceID)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr().String()+"/osc", nil)
	require.NoError(t, err)
	defer client.Close()

	frame, err := protocol.EncodeMessages(protocol.MustMessage("/workspace/W1/go"))
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))
	select {
	case packet := <-engine.received:
		assert.Equal(t, "/workspace/W1/go", packet.Messages[0].Address())
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not receive client frame")
	}

	// unsolicited engine traffic reaches the client
	peer := <-engine.peer
	update, err := protocol.EncodeMessages(protocol.MustMessage("/update/workspace/W1"))
	require.NoError(t, err)
	_, err = engine.conn.WriteToUDP(update, peer)
	require.NoError(t, err)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	packet, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "/update/workspace/W1", packet.Messages[0].Address())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestServiceStopsOnAccessDenied(t *testing.T) {
	testlog.Start(t)
	engine := startFakeEngine(t, "denied")
	cfg := testConfig(engine)
	cfg.HandshakeAttempts = 3
	svc, err := NewServiceWithConfig(cfg)
	require.NoError(t, err)

	err = svc.RunContext(context.Background())
	require.ErrorIs(t, err, session.ErrAccessDenied)
	assert.Contains(t, err.Error(), "after 1 attempt")
}

func TestServiceRetriesHandshakeTimeout(t *testing.T) {
	testlog.Start(t)
	// a bound socket that never answers
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	cfg := DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Engine = udp.Config{Host: "127.0.0.1", Port: silent.LocalAddr().(*net.UDPAddr).Port, LocalAddr: "127.0.0.1:0"}
	cfg.HandshakeAttempts = 2
	cfg.Session.HandshakeTimeout = 30 * time.Millisecond
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	svc, err := NewServiceWithConfig(cfg)
	require.NoError(t, err)

	err = svc.RunContext(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, correlator.ErrTimeout)
	assert.Contains(t, err.Error(), "after 2 attempt")
	assert.Equal(t, 0, svc.Relay().Correlator().Pending())
}

func TestServiceRetriesHandshakeUntilContextEnds(t *testing.T) {
	testlog.Start(t)
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	var connects atomic.Int32
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := silent.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if packet, err := protocol.Decode(buf[:n]); err == nil && packet.Messages[0].Address() == "/connect" {
				connects.Add(1)
			}
		}
	}()

	cfg := DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Engine = udp.Config{Host: "127.0.0.1", Port: silent.LocalAddr().(*net.UDPAddr).Port, LocalAddr: "127.0.0.1:0"}
	cfg.HandshakeAttempts = 0
	cfg.Session.HandshakeTimeout = 20 * time.Millisecond
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	svc, err := NewServiceWithConfig(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = svc.RunContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return connects.Load() > 2 }, time.Second, 10*time.Millisecond,
		"expected repeated connect attempts, got %d", connects.Load())
}

func TestServiceConfigKeepsUnboundedAttempts(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, 0, ServiceConfig{}.WithDefaults().HandshakeAttempts)

	cfg := DefaultServiceConfig()
	cfg.HandshakeAttempts = 0
	assert.Equal(t, 0, cfg.WithDefaults().HandshakeAttempts)
	assert.Equal(t, session.DefaultConfig().HandshakeAttempts, DefaultServiceConfig().WithDefaults().HandshakeAttempts)
}

func TestServiceConfigValidation(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = ""
	_, err := NewServiceWithConfig(cfg)
	require.ErrorIs(t, err, ErrListenAddrRequired)

	cfg = DefaultServiceConfig()
	cfg.Engine.Port = 0
	_, err = NewServiceWithConfig(cfg)
	require.ErrorIs(t, err, udp.ErrInvalidPort)
	require.False(t, errors.Is(err, ErrListenAddrRequired))
}

func TestConnectAndPushCues(t *testing.T) {
	testlog.Start(t)
	engine := startFakeEngine(t, "ok:view|edit")
	cfg := testConfig(engine)

	r, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer r.Close()

	list := []cues.Cue{{Number: "1", Name: "Thunder", Type: "audio"}}
	result, err := cues.NewPusher(r, r.Session().Dictionary()).Push(context.Background(), list)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, "CUE-1", list[0].ID)

	packet := <-engine.received
	require.True(t, packet.Bundled)
	assert.Equal(t, "/workspace/W1/new", packet.Messages[0].Address())
	assert.Equal(t, "/workspace/W1/cue/selected/name", packet.Messages[1].Address())
}
