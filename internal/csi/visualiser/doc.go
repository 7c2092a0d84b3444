// Package visualiser streams pose and track lifecycle updates to remote
// dashboards over gRPC.
//
// The service is defined by hand on top of protobuf well-known types, so
// any gRPC client can consume it without generated stubs:
//
//	service PoseStream {
//	  rpc StreamPoses(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//	  rpc LastUpdate(google.protobuf.Empty) returns (google.protobuf.Timestamp);
//	  rpc Skeleton(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
//
// Each streamed Struct carries a "type" field of "poses" or "lifecycle".
// A slow client loses updates rather than holding up the pipeline.
package visualiser
