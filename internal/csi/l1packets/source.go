package l1packets

import (
	"context"
	"io"
	"sync"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// ChanSource adapts push-style producers (listeners, serial readers,
// capture replays) to csi.Source.
type ChanSource struct {
	ch        chan *csi.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanSource returns a source buffering up to capacity frames.
func NewChanSource(capacity int) *ChanSource {
	if capacity < 1 {
		capacity = 1
	}
	return &ChanSource{
		ch:   make(chan *csi.Frame, capacity),
		done: make(chan struct{}),
	}
}

// Push hands a frame to the reader, blocking while the buffer is full.
// It returns io.ErrClosedPipe after Close.
func (s *ChanSource) Push(ctx context.Context, f *csi.Frame) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case s.ch <- f:
		return nil
	case <-s.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. Frames already buffered are still delivered,
// then NextFrame returns io.EOF.
func (s *ChanSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// NextFrame implements csi.Source.
func (s *ChanSource) NextFrame(ctx context.Context) (*csi.Frame, error) {
	select {
	case f := <-s.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case f := <-s.ch:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}
