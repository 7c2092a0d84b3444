package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// Activity is what the simulated person is doing during a segment.
type Activity string

const (
	Empty    Activity = "empty"
	Standing Activity = "standing"
	Walking  Activity = "walking"
)

// Segment is a run of frames with one activity.
type Segment struct {
	Activity Activity
	Frames   int
}

// Scenario is played in order. An empty Scenario runs forever with a
// walking person.
type Scenario []Segment

// Frames returns the total length of the scenario, or 0 for an endless one.
func (s Scenario) Frames() int {
	n := 0
	for _, seg := range s {
		n += seg.Frames
	}
	return n
}

// At returns the activity for zero-based frame index i and whether the
// scenario is still running.
func (s Scenario) At(i int) (Activity, bool) {
	if len(s) == 0 {
		return Walking, true
	}
	for _, seg := range s {
		if i < seg.Frames {
			return seg.Activity, true
		}
		i -= seg.Frames
	}
	return Empty, false
}

// ParseScenario reads a comma separated list of activity:frames pairs,
// for example "standing:40,empty:20,walking:100". The empty string is the
// endless walking scenario.
func ParseScenario(s string) (Scenario, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out Scenario
	for _, part := range strings.Split(s, ",") {
		name, count, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("scenario segment %q: want activity:frames", part)
		}
		act := Activity(strings.ToLower(name))
		switch act {
		case Empty, Standing, Walking:
		default:
			return nil, fmt.Errorf("scenario segment %q: unknown activity %q", part, name)
		}
		n, err := strconv.Atoi(count)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("scenario segment %q: frame count must be a positive integer", part)
		}
		out = append(out, Segment{Activity: act, Frames: n})
	}
	return out, nil
}

func (s Scenario) String() string {
	parts := make([]string, len(s))
	for i, seg := range s {
		parts[i] = fmt.Sprintf("%s:%d", seg.Activity, seg.Frames)
	}
	return strings.Join(parts, ",")
}
