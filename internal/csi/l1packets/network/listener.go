package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// maxDatagram covers a nexmon report for 256 subcarriers with room to spare.
// Anything longer was truncated by the read and is discarded.
const maxDatagram = 2048

// pollInterval bounds how long a read blocks before cancellation is checked.
const pollInterval = 100 * time.Millisecond

// PacketConn is the part of *net.UDPConn the listener uses.
type PacketConn interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// ListenFunc opens the socket for addr.
type ListenFunc func(addr *net.UDPAddr) (PacketConn, error)

func listenUDP(addr *net.UDPAddr) (PacketConn, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDPListenerConfig configures a UDPListener. Only Address and Feeder are
// required.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Feeder      *l1packets.Feeder
	Listen      ListenFunc
	Clock       timeutil.Clock
}

// ListenerStats counts datagrams at the socket, before parsing.
type ListenerStats struct {
	Datagrams  uint64            `json:"datagrams"`
	Oversize   uint64            `json:"oversize"`
	ReadErrors uint64            `json:"read_errors"`
	Peers      map[string]uint64 `json:"peers"`
}

// UDPListener receives CSI reports over UDP and hands each datagram to a
// Feeder.
type UDPListener struct {
	cfg UDPListenerConfig

	datagrams, oversize, readErrors atomic.Uint64

	mu    sync.Mutex
	conn  PacketConn
	peers map[string]uint64
}

// NewUDPListener fills in defaults for cfg and returns an unstarted listener.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Listen == nil {
		cfg.Listen = listenUDP
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &UDPListener{cfg: cfg, peers: make(map[string]uint64)}
}

// Start listens until ctx is cancelled, the socket is closed, or the
// feeder's source stops accepting frames. It does not close the feeder.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.cfg.Feeder == nil {
		return errors.New("udp listener has no feeder")
	}
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			opsf("could not set UDP receive buffer to %d bytes: %v", l.cfg.RcvBuf, err)
		}
	}
	diagf("listening for CSI on %s", conn.LocalAddr())

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go l.logStats(statsCtx)

	return l.receive(ctx, conn)
}

func (l *UDPListener) receive(ctx context.Context, conn PacketConn) error {
	buf := make([]byte, maxDatagram+1)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(l.cfg.Clock.Now().Add(pollInterval))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
			case ctx.Err() != nil:
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				l.readErrors.Add(1)
				opsf("UDP read error: %v", err)
			}
			continue
		}
		l.datagrams.Add(1)
		l.notePeer(peer)
		if n > maxDatagram {
			l.oversize.Add(1)
			tracef("dropping datagram over %d bytes", maxDatagram)
			continue
		}
		if err := l.cfg.Feeder.Feed(ctx, buf[:n], l.cfg.Clock.Now()); err != nil {
			if ctx.Err() != nil {
				break
			}
			diagf("UDP listener stopping: %v", err)
			return nil
		}
	}
	return ctx.Err()
}

func (l *UDPListener) notePeer(peer *net.UDPAddr) {
	if peer == nil {
		return
	}
	l.mu.Lock()
	l.peers[peer.IP.String()]++
	l.mu.Unlock()
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := l.cfg.Clock.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			st, fs := l.Stats(), l.cfg.Feeder.Stats()
			diagf("UDP: %d datagrams from %d peers, %d oversize; %d not CSI, %d parse errors, %d complete / %d partial frames",
				st.Datagrams, len(st.Peers), st.Oversize, fs.NotCSI, fs.ParseErrors, fs.Assembler.Complete, fs.Assembler.Partial)
		}
	}
}

// Stats returns a copy of the socket counters.
func (l *UDPListener) Stats() ListenerStats {
	l.mu.Lock()
	peers := make(map[string]uint64, len(l.peers))
	for k, v := range l.peers {
		peers[k] = v
	}
	l.mu.Unlock()
	return ListenerStats{
		Datagrams:  l.datagrams.Load(),
		Oversize:   l.oversize.Load(),
		ReadErrors: l.readErrors.Load(),
		Peers:      peers,
	}
}

// LocalAddr returns the bound address once Start has opened the socket.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close closes the socket. It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
