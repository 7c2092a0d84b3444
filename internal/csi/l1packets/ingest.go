package l1packets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// FeederStats counts reports by outcome.
type FeederStats struct {
	Reports     uint64         `json:"reports"`
	NotCSI      uint64         `json:"not_csi"`
	ParseErrors uint64         `json:"parse_errors"`
	Assembler   AssemblerStats `json:"assembler"`
}

// Feeder runs raw reports through a Parser and an Assembler and pushes the
// finished frames into a ChanSource. Transports call Feed for each report
// and Close when their input ends.
type Feeder struct {
	parser Parser
	asm    *Assembler
	out    *ChanSource
	clock  timeutil.Clock

	mu    sync.Mutex
	ready []*csi.Frame

	reports, notCSI, parseErrors atomic.Uint64
}

// NewFeeder wires parser into a new assembler for shape, delivering to out.
func NewFeeder(parser Parser, shape csi.GridShape, maxPending int, out *ChanSource) (*Feeder, error) {
	f := &Feeder{parser: parser, out: out, clock: timeutil.RealClock{}}
	asm, err := NewAssembler(shape, maxPending, func(fr *csi.Frame) { f.ready = append(f.ready, fr) })
	if err != nil {
		return nil, err
	}
	f.asm = asm
	return f, nil
}

// SetClock replaces the clock used to stamp reports that arrive without a
// timestamp.
func (f *Feeder) SetClock(c timeutil.Clock) { f.clock = c }

// Feed decodes one report. A zero ts means "now". Reports that are not CSI
// or fail to parse are counted and skipped; only a failed handoff to the
// source (cancellation or a closed source) is returned.
func (f *Feeder) Feed(ctx context.Context, raw []byte, ts time.Time) error {
	f.reports.Add(1)
	if ts.IsZero() {
		ts = f.clock.Now()
	}
	pkt, err := f.parser.Parse(raw, ts)
	switch {
	case errors.Is(err, ErrNotCSI):
		f.notCSI.Add(1)
		return nil
	case err != nil:
		if n := f.parseErrors.Add(1); n == 1 || n%1000 == 0 {
			opsf("parse error (%d so far): %v", n, err)
		}
		return nil
	}

	f.mu.Lock()
	if err := f.asm.Add(pkt); err != nil {
		tracef("packet rejected: %v", err)
	}
	ready := f.ready
	f.ready = nil
	f.mu.Unlock()

	return f.push(ctx, ready)
}

// FeedLines feeds each line from lines until the channel closes or ctx is
// done. It suits line-oriented transports such as a serial console.
func (f *Feeder) FeedLines(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := f.Feed(ctx, []byte(line), time.Time{}); err != nil {
				return err
			}
		}
	}
}

// Close flushes frames still waiting for pairs and closes the source.
func (f *Feeder) Close(ctx context.Context) error {
	f.mu.Lock()
	f.asm.Flush()
	ready := f.ready
	f.ready = nil
	f.mu.Unlock()

	err := f.push(ctx, ready)
	f.out.Close()
	return err
}

// Stats returns a copy of the counters.
func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		Reports:     f.reports.Load(),
		NotCSI:      f.notCSI.Load(),
		ParseErrors: f.parseErrors.Load(),
		Assembler:   f.asm.Stats(),
	}
}

func (f *Feeder) push(ctx context.Context, frames []*csi.Frame) error {
	for _, fr := range frames {
		if err := f.out.Push(ctx, fr); err != nil {
			return err
		}
	}
	return nil
}
