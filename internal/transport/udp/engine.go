package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/transport"
)

const maxDatagram = 64 * 1024

var (
	ErrHostRequired = errors.New("udp: engine host required")
	ErrInvalidPort  = errors.New("udp: invalid port")
)

// Config describes the engine endpoint and the local reply socket.
type Config struct {
	Host string
	Port int
	// LocalAddr is where the engine's replies arrive. Empty binds
	// ":<Port+1>", the engine convention for reply listeners; ":0" picks any.
	LocalAddr string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrHostRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	return nil
}

func (c Config) localAddr() string {
	if strings.TrimSpace(c.LocalAddr) != "" {
		return c.LocalAddr
	}
	return ":" + strconv.Itoa(c.Port+1)
}

// Engine is the engine-facing channel: one UDP socket that sends to the
// engine and receives its replies.
type Engine struct {
	cfg     Config
	conn    *net.UDPConn
	remote  *net.UDPAddr
	handler transport.Handler

	closeOnce sync.Once
	done      chan struct{}
}

// Open binds the reply socket and starts the read loop. Inbound datagrams
// from any source are handed to h; the engine may answer from another port.
func Open(ctx context.Context, cfg Config, h transport.Handler) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var resolver net.Resolver
	ips, err := resolver.LookupIPAddr(ctx, cfg.Host)
	if err != nil {
		return nil, transport.Wrap(transport.SideEngine, err)
	}
	if len(ips) == 0 {
		return nil, transport.Wrap(transport.SideEngine, fmt.Errorf("no address for %q", cfg.Host))
	}
	remote := &net.UDPAddr{IP: preferIPv4(ips), Port: cfg.Port}

	local, err := net.ResolveUDPAddr("udp", cfg.localAddr())
	if err != nil {
		return nil, transport.Wrap(transport.SideEngine, err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, transport.Wrap(transport.SideEngine, err)
	}

	e := &Engine{
		cfg:     cfg,
		conn:    conn,
		remote:  remote,
		handler: h,
		done:    make(chan struct{}),
	}
	go e.readLoop()

	logging.Infof("udp.Engine.Open remote=%q local=%q", remote.String(), conn.LocalAddr().String())
	return e, nil
}

// LocalAddr is the bound reply socket address.
func (e *Engine) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

func (e *Engine) RemoteAddr() net.Addr {
	return e.remote
}

// Send writes one frame as one datagram.
func (e *Engine) Send(ctx context.Context, frame []byte) error {
	select {
	case <-e.done:
		return transport.Wrap(transport.SideEngine, transport.ErrClosed)
	default:
	}
	if len(frame) > maxDatagram {
		return transport.Wrap(transport.SideEngine, fmt.Errorf("frame of %d bytes exceeds datagram limit", len(frame)))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = e.conn.SetWriteDeadline(deadline)
		defer e.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := e.conn.WriteToUDP(frame, e.remote); err != nil {
		return transport.Wrap(transport.SideEngine, err)
	}
	return nil
}

// Close stops the read loop and releases the socket.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		err = e.conn.Close()
	})
	return err
}

// Done is closed once Close was called.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.handler.OnError(transport.SideEngine, transport.Wrap(transport.SideEngine, err))
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		logging.Debugf("udp.Engine.readLoop from=%q bytes=%d", from.String(), n)
		e.handler.OnFrame(transport.SideEngine, frame)
	}
}

func preferIPv4(ips []net.IPAddr) net.IP {
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			return v4
		}
	}
	return ips[0].IP
}
