package visualiser

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

const (
	kindPoses     = "poses"
	kindLifecycle = "lifecycle"
)

// Update is one decoded stream message. Exactly one of Poses (for a
// "poses" update, possibly empty) or Event is meaningful.
type Update struct {
	Kind      string
	Timestamp time.Time
	Poses     []csi.PoseEstimate
	Event     csi.TrackEvent
}

func posesMessage(ts time.Time, poses []csi.PoseEstimate) (*structpb.Struct, error) {
	list := make([]any, 0, len(poses))
	for _, p := range poses {
		kps := make([]any, len(p.Keypoints))
		for i, kp := range p.Keypoints {
			kps[i] = []any{kp.X, kp.Y, kp.Z}
		}
		conf := make([]any, len(p.Confidence))
		for i, c := range p.Confidence {
			conf[i] = c
		}
		list = append(list, map[string]any{
			"track_id":   float64(p.TrackID),
			"keypoints":  kps,
			"confidence": conf,
		})
	}
	return structpb.NewStruct(map[string]any{
		"type":      kindPoses,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"poses":     list,
	})
}

func lifecycleMessage(id csi.TrackID, ev csi.LifecycleEvent, ts time.Time) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":      kindLifecycle,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"track_id":  float64(id),
		"event":     ev.String(),
	})
}

func skeletonMessage() (*structpb.Struct, error) {
	names := make([]any, len(csi.KeypointNames))
	for i, n := range csi.KeypointNames {
		names[i] = n
	}
	edges := make([]any, len(csi.SkeletonEdges))
	for i, e := range csi.SkeletonEdges {
		edges[i] = []any{float64(e[0]), float64(e[1])}
	}
	return structpb.NewStruct(map[string]any{"keypoints": names, "edges": edges})
}

// Struct numbers are float64, too narrow for Unix nanoseconds, so
// timestamps travel as RFC 3339 strings.
func decodeTime(v *structpb.Value) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v.GetStringValue())
}

// DecodeUpdate converts a streamed Struct back into an Update.
func DecodeUpdate(msg *structpb.Struct) (Update, error) {
	fields := msg.GetFields()
	ts, err := decodeTime(fields["timestamp"])
	if err != nil {
		return Update{}, fmt.Errorf("bad timestamp: %w", err)
	}
	u := Update{Kind: fields["type"].GetStringValue(), Timestamp: ts}
	switch u.Kind {
	case kindPoses:
		for _, pv := range fields["poses"].GetListValue().GetValues() {
			pf := pv.GetStructValue().GetFields()
			p := csi.PoseEstimate{
				TrackID:   csi.TrackID(pf["track_id"].GetNumberValue()),
				Timestamp: u.Timestamp,
			}
			for _, kv := range pf["keypoints"].GetListValue().GetValues() {
				xyz := kv.GetListValue().GetValues()
				if len(xyz) != 3 {
					return Update{}, fmt.Errorf("keypoint has %d coordinates, want 3", len(xyz))
				}
				p.Keypoints = append(p.Keypoints, csi.Keypoint{
					X: xyz[0].GetNumberValue(), Y: xyz[1].GetNumberValue(), Z: xyz[2].GetNumberValue(),
				})
			}
			for _, cv := range pf["confidence"].GetListValue().GetValues() {
				p.Confidence = append(p.Confidence, cv.GetNumberValue())
			}
			u.Poses = append(u.Poses, p)
		}
	case kindLifecycle:
		name := fields["event"].GetStringValue()
		var ev csi.LifecycleEvent
		for _, cand := range []csi.LifecycleEvent{csi.Spawned, csi.Confirmed, csi.Retired} {
			if cand.String() == name {
				ev = cand
			}
		}
		if ev == 0 {
			return Update{}, fmt.Errorf("unknown lifecycle event %q", name)
		}
		u.Event = csi.TrackEvent{TrackID: csi.TrackID(fields["track_id"].GetNumberValue()), Event: ev, Timestamp: u.Timestamp}
	default:
		return Update{}, fmt.Errorf("unknown update type %q", u.Kind)
	}
	return u, nil
}
