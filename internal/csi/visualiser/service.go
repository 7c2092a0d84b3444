package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	serviceName       = "wifiradar.visualiser.v1.PoseStream"
	streamPosesMethod = "/" + serviceName + "/StreamPoses"
	lastUpdateMethod  = "/" + serviceName + "/LastUpdate"
	skeletonMethod    = "/" + serviceName + "/Skeleton"
)

// PoseStreamServer is the server side of the PoseStream service.
type PoseStreamServer interface {
	StreamPoses(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	LastUpdate(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
	Skeleton(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var _ PoseStreamServer = (*Publisher)(nil)

// ServiceDesc describes the PoseStream service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PoseStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LastUpdate", Handler: lastUpdateHandler},
		{MethodName: "Skeleton", Handler: skeletonHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamPoses", Handler: streamPosesHandler, ServerStreams: true},
	},
}

func streamPosesHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PoseStreamServer).StreamPoses(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

func lastUpdateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseStreamServer).LastUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lastUpdateMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PoseStreamServer).LastUpdate(ctx, req.(*emptypb.Empty))
	})
}

func skeletonHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PoseStreamServer).Skeleton(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: skeletonMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PoseStreamServer).Skeleton(ctx, req.(*emptypb.Empty))
	})
}

// StreamPoses sends every update published after the call until the
// client goes away.
func (p *Publisher) StreamPoses(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	c, err := p.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.ch:
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) LastUpdate(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error) {
	ts := p.LastUpdateTime()
	if ts.IsZero() {
		return nil, status.Error(codes.NotFound, "no pose update published yet")
	}
	return timestamppb.New(ts), nil
}

func (p *Publisher) Skeleton(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return skeletonMessage()
}
