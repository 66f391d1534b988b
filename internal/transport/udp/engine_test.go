package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cuebridge/internal/protocol"
	"github.com/danmuck/cuebridge/internal/testutil/testlog"
	"github.com/danmuck/cuebridge/internal/transport"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames chan []byte
	errs   []error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{frames: make(chan []byte, 8)}
}

func (h *recordingHandler) OnFrame(side transport.Side, frame []byte) {
	if side != transport.SideEngine {
		panic("unexpected side " + side.String())
	}
	h.frames <- frame
}

func (h *recordingHandler) OnError(_ transport.Side, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func startFakeEngine(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen fake engine: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEngineSendAndReceiveReply(t *testing.T) {
	testlog.Start(t)
	fake := startFakeEngine(t)
	h := newRecordingHandler()

	e, err := Open(context.Background(), Config{
		Host:      "127.0.0.1",
		Port:      fake.LocalAddr().(*net.UDPAddr).Port,
		LocalAddr: "127.0.0.1:0",
	}, h)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	frame, err := protocol.EncodeMessages(protocol.MustMessage("/connect", "pw"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := e.Send(context.Background(), frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, maxDatagram)
	_ = fake.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := fake.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake engine read: %v", err)
	}
	got, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.Messages[0].Address() != "/connect" {
		t.Fatalf("unexpected request address: %q", got.Messages[0].Address())
	}

	reply, _ := protocol.EncodeReplyText(protocol.StatusOK, "/connect", "W1", "ok:view")
	replyFrame, _ := protocol.EncodeMessages(protocol.MustMessage("/reply/connect", reply))
	if _, err := fake.WriteToUDP(replyFrame, from); err != nil {
		t.Fatalf("fake engine write: %v", err)
	}

	select {
	case in := <-h.frames:
		decoded, err := protocol.Decode(in)
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if decoded.Messages[0].Address() != "/reply/connect" {
			t.Fatalf("unexpected reply address: %q", decoded.Messages[0].Address())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reply not delivered")
	}
}

func TestEngineSendAfterClose(t *testing.T) {
	testlog.Start(t)
	fake := startFakeEngine(t)
	e, err := Open(context.Background(), Config{
		Host:      "127.0.0.1",
		Port:      fake.LocalAddr().(*net.UDPAddr).Port,
		LocalAddr: "127.0.0.1:0",
	}, newRecordingHandler())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err = e.Send(context.Background(), []byte("/x\x00\x00,\x00\x00\x00"))
	if !errors.Is(err, transport.ErrTransport) || !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected closed transport error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := (Config{Port: 53000}).Validate(); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected ErrHostRequired, got %v", err)
	}
	if err := (Config{Host: "localhost", Port: 70000}).Validate(); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
	if got := (Config{Host: "localhost", Port: 53000}).localAddr(); got != ":53001" {
		t.Fatalf("unexpected default reply addr: %q", got)
	}
}
