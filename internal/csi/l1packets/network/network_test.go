package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

var (
	testShape = csi.GridShape{Tx: 1, Rx: 2, Subcarriers: 4}
	t0        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func report(seq uint32, rx int) []byte {
	return l1packets.EncodeNexmon(&l1packets.Packet{
		Seq:     seq,
		Rx:      rx,
		Samples: []complex128{1, 2, 3, 4},
	})
}

func newFeeder(t *testing.T) (*l1packets.Feeder, *l1packets.ChanSource) {
	t.Helper()
	out := l1packets.NewChanSource(16)
	f, err := l1packets.NewFeeder(l1packets.NexmonParser{}, testShape, 0, out)
	require.NoError(t, err)
	return f, out
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// scriptedSocket replays datagrams and then times out on every read.
type scriptedSocket struct {
	mu        sync.Mutex
	datagrams [][]byte
	closed    bool
	rcvBuf    int
}

func (s *scriptedSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, net.ErrClosed
	}
	if len(s.datagrams) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	n := copy(b, s.datagrams[0])
	s.datagrams = s.datagrams[1:]
	return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5500}, nil
}

func (s *scriptedSocket) SetReadBuffer(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rcvBuf = n
	return nil
}

func (s *scriptedSocket) SetReadDeadline(time.Time) error { return nil }

func (s *scriptedSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSocket) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4zero, Port: 5500} }

func (s *scriptedSocket) listen(*net.UDPAddr) (PacketConn, error) { return s, nil }

func TestUDPListener_AssemblesFrames(t *testing.T) {
	feeder, out := newFeeder(t)
	sock := &scriptedSocket{datagrams: [][]byte{report(1, 0), []byte("noise"), report(1, 1), report(2, 0), report(2, 1)}}
	l := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:0",
		RcvBuf:  1 << 20,
		Feeder:  feeder,
		Listen:  sock.listen,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	for want := uint64(1); want <= 2; want++ {
		readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
		f, err := out.NextFrame(readCtx)
		readCancel()
		require.NoError(t, err)
		assert.Equal(t, want, f.Seq)
		assert.Equal(t, testShape.Cells(), f.ValidCount())
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint64(1), feeder.Stats().NotCSI)
	st := l.Stats()
	assert.Equal(t, uint64(5), st.Datagrams)
	assert.Equal(t, map[string]uint64{"10.0.0.2": 5}, st.Peers)
	sock.mu.Lock()
	assert.Equal(t, 1<<20, sock.rcvBuf)
	sock.mu.Unlock()
}

func TestUDPListener_StopsWhenSourceCloses(t *testing.T) {
	feeder, out := newFeeder(t)
	out.Close()
	sock := &scriptedSocket{datagrams: [][]byte{report(1, 0), report(1, 1)}}
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Feeder: feeder, Listen: sock.listen})
	assert.NoError(t, l.Start(context.Background()))
	assert.NoError(t, l.Close())
}

func TestUDPListener_DropsOversizeDatagrams(t *testing.T) {
	feeder, out := newFeeder(t)
	sock := &scriptedSocket{datagrams: [][]byte{make([]byte, 3000), report(3, 0), report(3, 1)}}
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Feeder: feeder, Listen: sock.listen})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	f, err := out.NextFrame(readCtx)
	readCancel()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)

	cancel()
	<-done
	assert.Equal(t, uint64(1), l.Stats().Oversize)
	assert.Equal(t, uint64(2), feeder.Stats().Reports, "oversize datagrams never reach the parser")
}

func TestUDPListener_RequiresFeeder(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0"})
	assert.Error(t, l.Start(context.Background()))
	assert.Nil(t, l.LocalAddr())
}

func TestUDPListener_RealSocket(t *testing.T) {
	feeder, out := newFeeder(t)
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Feeder: feeder})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	require.Eventually(t, func() bool { return l.LocalAddr() != nil }, 2*time.Second, 5*time.Millisecond)
	conn, err := net.DialUDP("udp", nil, l.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	for rx := 0; rx < 2; rx++ {
		_, err := conn.Write(report(9, rx))
		require.NoError(t, err)
	}

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	f, err := out.NextFrame(readCtx)
	require.NoError(t, err)
	assert.Equal(t, testShape.Cells(), f.ValidCount())
}

// capture builds an Ethernet/IPv4/UDP capture of payloads sent to port,
// spaced 50ms apart.
func capture(t *testing.T, ng bool, port uint16, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var write func(gopacket.CaptureInfo, []byte) error
	flush := func() error { return nil }
	if ng {
		w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
		require.NoError(t, err)
		write, flush = w.WritePacket, w.Flush
	} else {
		w := pcapgo.NewWriter(&buf)
		require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
		write = w.WritePacket
	}

	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(10, 0, 0, 2), DstIP: net.IPv4(10, 0, 0, 1)}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		sb := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(sb, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			eth, ip, udp, gopacket.Payload(payload)))
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:      t0.Add(time.Duration(i) * 50 * time.Millisecond),
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		}
		require.NoError(t, write(ci, data))
	}
	require.NoError(t, flush())
	return buf.Bytes()
}

func TestReadPCAP(t *testing.T) {
	for _, ng := range []bool{false, true} {
		name := "pcap"
		if ng {
			name = "pcapng"
		}
		t.Run(name, func(t *testing.T) {
			data := capture(t, ng, DefaultNexmonPort, report(1, 0), report(1, 1), report(2, 0))
			feeder, out := newFeeder(t)
			stats, err := ReadPCAP(context.Background(), bytes.NewReader(data), feeder, PCAPOptions{Port: DefaultNexmonPort})
			require.NoError(t, err)
			require.NoError(t, feeder.Close(context.Background()))

			assert.Equal(t, ReplayStats{Packets: 3, Datagrams: 3, Span: 100 * time.Millisecond}, stats)
			f, err := out.NextFrame(context.Background())
			require.NoError(t, err)
			assert.Equal(t, t0, f.Timestamp, "capture time becomes the frame time")
			assert.Equal(t, testShape.Cells(), f.ValidCount())
			f, err = out.NextFrame(context.Background())
			require.NoError(t, err)
			assert.Equal(t, testShape.Subcarriers, f.ValidCount())
			_, err = out.NextFrame(context.Background())
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReadPCAP_PortFilter(t *testing.T) {
	data := capture(t, false, 9999, report(1, 0), report(1, 1))
	feeder, _ := newFeeder(t)
	stats, err := ReadPCAP(context.Background(), bytes.NewReader(data), feeder, PCAPOptions{Port: DefaultNexmonPort})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Packets)
	assert.Zero(t, stats.Datagrams)
	assert.Zero(t, feeder.Stats().Reports)
}

func TestReadPCAP_Realtime(t *testing.T) {
	data := capture(t, false, DefaultNexmonPort, report(1, 0), report(1, 1))
	feeder, _ := newFeeder(t)
	clock := timeutil.NewMockClock(t0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stats, err := ReadPCAP(ctx, bytes.NewReader(data), feeder, PCAPOptions{Realtime: true, Clock: clock})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "second datagram waits for the mock clock")
	assert.Equal(t, 2, stats.Datagrams)
	assert.Equal(t, uint64(1), feeder.Stats().Reports)
}

func TestReadPCAP_BadHeader(t *testing.T) {
	feeder, _ := newFeeder(t)
	_, err := ReadPCAP(context.Background(), bytes.NewReader([]byte("not a capture file")), feeder, PCAPOptions{})
	assert.Error(t, err)
}
