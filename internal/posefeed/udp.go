package posefeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// maxDatagram bounds one pose report datagram.
const maxDatagram = 4096

// UDPSocket is the subset of *net.UDPConn the listener uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

type realSocketFactory struct{}

func (realSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	Decoder       Decoder
	SocketFactory UDPSocketFactory
}

// UDPListener receives pose reports as UDP datagrams.
type UDPListener struct {
	cfg UDPListenerConfig

	connMu sync.RWMutex
	conn   UDPSocket

	Stats Stats
}

// NewUDPListener returns a listener; call Run to start receiving.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = realSocketFactory{}
	}
	return &UDPListener{cfg: cfg}
}

// LocalAddr returns the bound address once Run has opened the socket.
func (l *UDPListener) LocalAddr() net.Addr {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run listens until ctx is done, forwarding decoded reports to out.
func (l *UDPListener) Run(ctx context.Context, out chan<- tracking.Observation) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.SocketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Opsf("posefeed: failed to set UDP receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("posefeed: UDP listener on %s", conn.LocalAddr())

	statsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go logStatsEvery(statsCtx, "udp", &l.Stats, l.cfg.LogInterval)

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A short deadline lets the loop observe cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Opsf("posefeed: UDP read error: %v", err)
			continue
		}
		monitoring.Tracef("posefeed: %d bytes from %v", n, from)
		payload := append([]byte(nil), buf[:n]...)
		if !deliver(ctx, l.cfg.Decoder, &l.Stats, payload, time.Now(), out) {
			return ctx.Err()
		}
	}
}
