package visualiser

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Client consumes a PoseStream service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Stream receives updates from an open StreamPoses call.
type Stream struct {
	stream grpc.ClientStream
}

// StreamPoses opens the update stream.
func (c *Client) StreamPoses(ctx context.Context, opts ...grpc.CallOption) (*Stream, error) {
	cs, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamPosesMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{stream: cs}, nil
}

// Recv blocks for the next update. It returns io.EOF when the server ends
// the stream.
func (s *Stream) Recv() (Update, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Update{}, err
	}
	return DecodeUpdate(msg)
}

// LastUpdate returns the timestamp of the newest published pose update.
func (c *Client) LastUpdate(ctx context.Context, opts ...grpc.CallOption) (time.Time, error) {
	out := new(timestamppb.Timestamp)
	if err := c.cc.Invoke(ctx, lastUpdateMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// Skeleton returns the keypoint names and edges used to draw a pose.
func (c *Client) Skeleton(ctx context.Context, opts ...grpc.CallOption) (names []string, edges [][2]int, err error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, skeletonMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, nil, err
	}
	for _, v := range out.GetFields()["keypoints"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	for _, v := range out.GetFields()["edges"].GetListValue().GetValues() {
		pair := v.GetListValue().GetValues()
		if len(pair) == 2 {
			edges = append(edges, [2]int{int(pair[0].GetNumberValue()), int(pair[1].GetNumberValue())})
		}
	}
	return names, edges, nil
}
