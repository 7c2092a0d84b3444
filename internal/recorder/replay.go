package recorder

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

const replayPageSize = 256

// ReplaySource plays the frames of a recorded session back as a
// csi.Source. With Realtime set, frames are released with the spacing of
// their recorded timestamps scaled by Speed.
type ReplaySource struct {
	store   *Store
	session *Session

	Realtime bool
	Speed    float64
	Clock    timeutil.Clock

	mu      sync.Mutex
	page    []*csi.Frame
	lastSeq uint64
	done    bool

	firstRecorded time.Time
	firstReplayed time.Time
}

// NewReplaySource returns a source over the frames of session.
func NewReplaySource(store *Store, session *Session) *ReplaySource {
	return &ReplaySource{store: store, session: session, Speed: 1}
}

func (s *ReplaySource) NextFrame(ctx context.Context) (*csi.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.page) == 0 {
		if s.done {
			return nil, io.EOF
		}
		page, err := s.store.Frames(ctx, s.session, s.lastSeq, replayPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) < replayPageSize {
			s.done = true
		}
		if len(page) == 0 {
			return nil, io.EOF
		}
		s.page = page
	}

	f := s.page[0]
	if s.Realtime {
		if err := s.pace(ctx, f.Timestamp); err != nil {
			return nil, err
		}
	}
	s.page = s.page[1:]
	s.lastSeq = f.Seq
	return f, nil
}

func (s *ReplaySource) pace(ctx context.Context, recorded time.Time) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if s.firstReplayed.IsZero() {
		s.firstRecorded = recorded
		s.firstReplayed = clock.Now()
		return nil
	}
	speed := s.Speed
	if speed <= 0 {
		speed = 1
	}
	due := s.firstReplayed.Add(time.Duration(float64(recorded.Sub(s.firstRecorded)) / speed))
	wait := clock.Until(due)
	if wait <= 0 {
		return nil
	}
	timer := clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
