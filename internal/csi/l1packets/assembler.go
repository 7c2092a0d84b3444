package l1packets

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// DefaultMaxPending is how many measurements may be open at once before the
// oldest is emitted with its missing pairs left invalid.
const DefaultMaxPending = 4

// recentWindow is how many emitted measurement numbers are remembered so
// stragglers are discarded instead of opening a new frame.
const recentWindow = 64

// AssemblerStats counts what the assembler has seen.
type AssemblerStats struct {
	Packets  uint64 `json:"packets"`
	Rejected uint64 `json:"rejected"`
	Late     uint64 `json:"late"`
	Complete uint64 `json:"complete"`
	Partial  uint64 `json:"partial"`
}

type pendingFrame struct {
	key   uint32
	frame *csi.Frame
	pairs []bool
	got   int
}

// Assembler groups per-pair packets with the same measurement number into
// frames of a fixed shape. A frame is emitted when every pair has arrived,
// when a newer frame completes, or when more than MaxPending frames are
// open. Frames are emitted in arrival order and renumbered from 1.
type Assembler struct {
	shape      csi.GridShape
	maxPending int
	emit       func(*csi.Frame)

	mu      sync.Mutex
	pending []*pendingFrame
	recent  [recentWindow]uint32
	nrecent int
	seq     uint64

	packets, rejected, late, complete, partial atomic.Uint64
}

// NewAssembler returns an assembler for shape. emit is called with the
// assembler's lock held and must not call back into it.
func NewAssembler(shape csi.GridShape, maxPending int, emit func(*csi.Frame)) (*Assembler, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Assembler{shape: shape, maxPending: maxPending, emit: emit}, nil
}

// Shape returns the frame shape the assembler produces.
func (a *Assembler) Shape() csi.GridShape { return a.shape }

// Add files one packet. Packets that do not fit the shape are rejected
// with an error matching csi.ErrShapeMismatch; the frame they belonged to
// is still emitted with that pair invalid.
func (a *Assembler) Add(p *Packet) error {
	a.packets.Add(1)
	if p.Tx < 0 || p.Tx >= a.shape.Tx || p.Rx < 0 || p.Rx >= a.shape.Rx {
		a.rejected.Add(1)
		return fmt.Errorf("%w: pair tx=%d rx=%d outside %s", csi.ErrShapeMismatch, p.Tx, p.Rx, a.shape)
	}
	if len(p.Samples) != a.shape.Subcarriers {
		a.rejected.Add(1)
		return fmt.Errorf("%w: %d subcarriers, session has %d", csi.ErrShapeMismatch, len(p.Samples), a.shape.Subcarriers)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.wasEmitted(p.Seq) {
		a.late.Add(1)
		tracef("late packet for measurement %d (tx=%d rx=%d)", p.Seq, p.Tx, p.Rx)
		return nil
	}

	pf := a.find(p.Seq)
	if pf == nil {
		pf = &pendingFrame{
			key:   p.Seq,
			frame: csi.NewFrame(0, p.Timestamp, a.shape),
			pairs: make([]bool, a.shape.Pairs()),
		}
		a.pending = append(a.pending, pf)
	}

	pair := p.Tx*a.shape.Rx + p.Rx
	if pf.pairs[pair] {
		tracef("duplicate pair tx=%d rx=%d for measurement %d", p.Tx, p.Rx, p.Seq)
		return nil
	}
	pf.pairs[pair] = true
	pf.got++
	if p.Timestamp.Before(pf.frame.Timestamp) {
		pf.frame.Timestamp = p.Timestamp
	}
	for k, s := range p.Samples {
		pf.frame.Set(p.Tx, p.Rx, k, s)
	}

	if pf.got == len(pf.pairs) {
		// Anything opened before a complete frame is not going to finish.
		for a.pending[0] != pf {
			a.emitOldest()
		}
		a.emitOldest()
		return nil
	}
	for len(a.pending) > a.maxPending {
		a.emitOldest()
	}
	return nil
}

// Flush emits every open frame.
func (a *Assembler) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.pending) > 0 {
		a.emitOldest()
	}
}

// Stats returns a copy of the counters.
func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{
		Packets:  a.packets.Load(),
		Rejected: a.rejected.Load(),
		Late:     a.late.Load(),
		Complete: a.complete.Load(),
		Partial:  a.partial.Load(),
	}
}

func (a *Assembler) find(key uint32) *pendingFrame {
	for _, pf := range a.pending {
		if pf.key == key {
			return pf
		}
	}
	return nil
}

func (a *Assembler) wasEmitted(key uint32) bool {
	n := min(a.nrecent, recentWindow)
	for i := 0; i < n; i++ {
		if a.recent[i] == key {
			return true
		}
	}
	return false
}

func (a *Assembler) emitOldest() {
	pf := a.pending[0]
	a.pending = a.pending[1:]
	a.recent[a.nrecent%recentWindow] = pf.key
	a.nrecent++

	a.seq++
	pf.frame.Seq = a.seq
	if pf.got == len(pf.pairs) {
		a.complete.Add(1)
	} else {
		a.partial.Add(1)
		diagf("frame %d (measurement %d) emitted with %d/%d pairs", a.seq, pf.key, pf.got, len(pf.pairs))
	}
	if a.emit != nil {
		a.emit(pf.frame)
	}
}
