package l1packets

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const esp32Line = `CSI_DATA,17,AA:BB:CC:DD:EE:FF,-42,11,1,7,1,0,1,0,0,0,0,-95,0,6,1,123456,0,92,0,8,0,"[1,2,-3,4,5,-6,7,8]"`

func TestESP32Parser(t *testing.T) {
	p := &ESP32Parser{Tx: 1, Rx: 2}
	pkt, err := p.Parse([]byte(esp32Line+"\r\n"), t0)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), pkt.Seq)
	assert.Equal(t, -42, pkt.RSSI)
	assert.Equal(t, 1, pkt.Tx)
	assert.Equal(t, 2, pkt.Rx)
	assert.Equal(t, t0, pkt.Timestamp)
	assert.Equal(t, []complex128{2 + 1i, 4 - 3i, -6 + 5i, 8 + 7i}, pkt.Samples)
}

func TestESP32Parser_TxByMAC(t *testing.T) {
	p := &ESP32Parser{TxByMAC: map[string]int{"aa:bb:cc:dd:ee:ff": 2}}
	pkt, err := p.Parse([]byte(esp32Line), t0)
	require.NoError(t, err)
	assert.Equal(t, 2, pkt.Tx)

	p.TxByMAC = map[string]int{"11:22:33:44:55:66": 0}
	_, err = p.Parse([]byte(esp32Line), t0)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestESP32Parser_Rejects(t *testing.T) {
	p := &ESP32Parser{}
	_, err := p.Parse([]byte("I (1234) wifi:connected with ap"), t0)
	assert.ErrorIs(t, err, ErrNotCSI)

	for name, line := range map[string]string{
		"no array":     `CSI_DATA,17,AA:BB:CC:DD:EE:FF,-42`,
		"short header": `CSI_DATA,17,AA:BB:CC:DD:EE:FF,-42,"[1,2]"`,
		"len mismatch": `CSI_DATA,17,AA:BB:CC:DD:EE:FF,-42,11,1,7,1,0,1,0,0,0,0,-95,0,6,1,123456,0,92,0,6,0,"[1,2,-3,4,5,-6,7,8]"`,
		"overflow":     `CSI_DATA,17,AA:BB:CC:DD:EE:FF,-42,11,1,7,1,0,1,0,0,0,0,-95,0,6,1,123456,0,92,0,2,0,"[1,200]"`,
	} {
		_, err := p.Parse([]byte(line), t0)
		var pe *ParseError
		assert.ErrorAs(t, err, &pe, name)
	}
}

func TestNexmonParser(t *testing.T) {
	raw := make([]byte, NexmonHeaderLen+8)
	raw[0], raw[1] = 0x11, 0x11
	raw[2] = 0xd6                 // rssi -42
	raw[10], raw[11] = 0x34, 0x12 // seq 0x1234
	raw[12] = 1 | 2<<3            // core 1, spatial stream 2
	copy(raw[NexmonHeaderLen:], []byte{0x03, 0x00, 0xfe, 0xff, 0x00, 0x80, 0x10, 0x00})

	pkt, err := NexmonParser{}.Parse(raw, t0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), pkt.Seq)
	assert.Equal(t, -42, pkt.RSSI)
	assert.Equal(t, 1, pkt.Rx)
	assert.Equal(t, 2, pkt.Tx)
	assert.Equal(t, []complex128{3 - 2i, -32768 + 16i}, pkt.Samples)

	again, err := NexmonParser{}.Parse(EncodeNexmon(pkt), t0)
	require.NoError(t, err)
	assert.Equal(t, pkt, again)
}

func TestNexmonParser_Rejects(t *testing.T) {
	_, err := NexmonParser{}.Parse([]byte{0x22, 0x22, 0, 0}, t0)
	assert.ErrorIs(t, err, ErrNotCSI)

	short := make([]byte, NexmonHeaderLen)
	short[0], short[1] = 0x11, 0x11
	_, err = NexmonParser{}.Parse(short, t0)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	ragged := make([]byte, NexmonHeaderLen+6)
	ragged[0], ragged[1] = 0x11, 0x11
	_, err = NexmonParser{}.Parse(ragged, t0)
	assert.ErrorAs(t, err, &pe)
}

var asmShape = csi.GridShape{Tx: 2, Rx: 2, Subcarriers: 4}

func pkt(seq uint32, tx, rx int, at time.Duration) *Packet {
	s := make([]complex128, asmShape.Subcarriers)
	for k := range s {
		s[k] = complex(float64(tx*10+rx), float64(k))
	}
	return &Packet{Seq: seq, Timestamp: t0.Add(at), Tx: tx, Rx: rx, Samples: s}
}

func collect(t *testing.T, maxPending int) (*Assembler, *[]*csi.Frame) {
	t.Helper()
	var out []*csi.Frame
	a, err := NewAssembler(asmShape, maxPending, func(f *csi.Frame) { out = append(out, f) })
	require.NoError(t, err)
	return a, &out
}

func TestAssembler_CompleteFrame(t *testing.T) {
	a, out := collect(t, 0)
	require.NoError(t, a.Add(pkt(7, 1, 1, 3*time.Millisecond)))
	require.NoError(t, a.Add(pkt(7, 0, 0, time.Millisecond)))
	require.NoError(t, a.Add(pkt(7, 0, 1, 2*time.Millisecond)))
	assert.Empty(t, *out)
	require.NoError(t, a.Add(pkt(7, 1, 0, 0)))

	require.Len(t, *out, 1)
	f := (*out)[0]
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, t0, f.Timestamp, "earliest packet time")
	assert.Equal(t, asmShape.Cells(), f.ValidCount())
	assert.Equal(t, complex(11, 2), f.Samples[asmShape.Index(1, 1, 2)])
	assert.Equal(t, AssemblerStats{Packets: 4, Complete: 1}, a.Stats())
}

func TestAssembler_MissingPairsStayInvalid(t *testing.T) {
	a, out := collect(t, 2)
	require.NoError(t, a.Add(pkt(1, 0, 0, 0)))
	require.NoError(t, a.Add(pkt(2, 0, 0, 0)))
	require.NoError(t, a.Add(pkt(3, 0, 0, 0)))

	require.Len(t, *out, 1, "third open frame pushes out the first")
	f := (*out)[0]
	assert.Equal(t, asmShape.Subcarriers, f.ValidCount())
	assert.False(t, f.Valid[asmShape.Index(1, 0, 0)])

	a.Flush()
	require.Len(t, *out, 3)
	for i, f := range *out {
		assert.Equal(t, uint64(i+1), f.Seq)
	}
	assert.Equal(t, uint64(3), a.Stats().Partial)
}

func TestAssembler_CompletionFlushesOlderFrames(t *testing.T) {
	a, out := collect(t, 0)
	require.NoError(t, a.Add(pkt(1, 0, 0, 0)))
	for _, p := range [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		require.NoError(t, a.Add(pkt(2, p[0], p[1], 50*time.Millisecond)))
	}
	require.Len(t, *out, 2)
	assert.Equal(t, asmShape.Subcarriers, (*out)[0].ValidCount())
	assert.Equal(t, asmShape.Cells(), (*out)[1].ValidCount())

	// A straggler for the partial frame is discarded.
	require.NoError(t, a.Add(pkt(1, 1, 1, 0)))
	a.Flush()
	assert.Len(t, *out, 2)
	assert.Equal(t, uint64(1), a.Stats().Late)
}

func TestAssembler_RejectsForeignGeometry(t *testing.T) {
	a, out := collect(t, 0)
	err := a.Add(pkt(1, 2, 0, 0))
	assert.ErrorIs(t, err, csi.ErrShapeMismatch)

	narrow := pkt(1, 0, 0, 0)
	narrow.Samples = narrow.Samples[:3]
	assert.ErrorIs(t, a.Add(narrow), csi.ErrShapeMismatch)

	a.Flush()
	assert.Empty(t, *out)
	assert.Equal(t, uint64(2), a.Stats().Rejected)
}

func TestAssembler_DuplicatePairKeepsFirst(t *testing.T) {
	a, out := collect(t, 0)
	require.NoError(t, a.Add(pkt(1, 0, 0, 0)))
	dup := pkt(1, 0, 0, 0)
	dup.Samples[0] = 99
	require.NoError(t, a.Add(dup))
	a.Flush()
	require.Len(t, *out, 1)
	assert.Equal(t, complex(0, 0), (*out)[0].Samples[0])
}

func TestChanSource(t *testing.T) {
	s := NewChanSource(2)
	ctx := context.Background()
	require.NoError(t, s.Push(ctx, csi.NewFrame(1, t0, asmShape)))
	require.NoError(t, s.Push(ctx, csi.NewFrame(2, t0, asmShape)))
	s.Close()
	assert.ErrorIs(t, s.Push(ctx, csi.NewFrame(3, t0, asmShape)), io.ErrClosedPipe)

	for want := uint64(1); want <= 2; want++ {
		f, err := s.NextFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, f.Seq)
	}
	_, err := s.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChanSource_Cancellation(t *testing.T) {
	s := NewChanSource(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.NextFrame(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, s.Push(context.Background(), csi.NewFrame(1, t0, asmShape)))
	assert.ErrorIs(t, s.Push(ctx, csi.NewFrame(2, t0, asmShape)), context.DeadlineExceeded)
}

func TestFeeder(t *testing.T) {
	shape := csi.GridShape{Tx: 1, Rx: 2, Subcarriers: 4}
	out := NewChanSource(8)
	f, err := NewFeeder(NexmonParser{}, shape, 0, out)
	require.NoError(t, err)
	ctx := context.Background()

	send := func(seq uint32, rx int) {
		p := &Packet{Seq: seq, Rx: rx, Samples: []complex128{1, 2, 3, 4}}
		require.NoError(t, f.Feed(ctx, EncodeNexmon(p), t0.Add(time.Duration(seq)*50*time.Millisecond)))
	}
	send(1, 0)
	send(1, 1)
	send(2, 1)
	require.NoError(t, f.Feed(ctx, []byte("hello"), t0))
	require.NoError(t, f.Feed(ctx, []byte{0x11, 0x11, 0x00}, t0))
	require.NoError(t, f.Close(ctx))

	first, err := out.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, shape.Cells(), first.ValidCount())
	second, err := out.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(100*time.Millisecond), second.Timestamp)
	assert.False(t, second.Valid[shape.Index(0, 0, 0)])
	assert.True(t, second.Valid[shape.Index(0, 1, 0)])
	_, err = out.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)

	st := f.Stats()
	assert.Equal(t, uint64(5), st.Reports)
	assert.Equal(t, uint64(1), st.NotCSI)
	assert.Equal(t, uint64(1), st.ParseErrors)
	assert.Equal(t, AssemblerStats{Packets: 3, Complete: 1, Partial: 1}, st.Assembler)
}

func TestFeeder_FeedLines(t *testing.T) {
	out := NewChanSource(4)
	f, err := NewFeeder(&ESP32Parser{}, csi.GridShape{Tx: 1, Rx: 1, Subcarriers: 4}, 0, out)
	require.NoError(t, err)

	lines := make(chan string, 3)
	lines <- "boot banner"
	lines <- esp32Line
	close(lines)
	require.NoError(t, f.FeedLines(context.Background(), lines))

	fr, err := out.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fr.Seq)
	assert.Equal(t, 4, fr.ValidCount())
}
