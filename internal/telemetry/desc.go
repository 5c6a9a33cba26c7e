package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "dronerace.telemetry.v1.Telemetry"
	// StreamSnapshotsMethod is the full method name of the snapshot stream.
	StreamSnapshotsMethod = "/" + ServiceName + "/StreamSnapshots"
	// PushControlsMethod is the full method name of the controller stream.
	PushControlsMethod = "/" + ServiceName + "/PushControls"
)

// TelemetryServer is the server API of the telemetry service.
type TelemetryServer interface {
	StreamSnapshots(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	PushControls(grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error
}

func streamSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamSnapshots(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func pushControlsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TelemetryServer).PushControls(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes the telemetry service. Messages are well-known Struct values,
// so no generated code is needed on either side.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSnapshots",
			Handler:       streamSnapshotsHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "PushControls",
			Handler:       pushControlsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "dronerace/telemetry/v1/telemetry.proto",
}

// Register attaches srv to registrar.
func Register(registrar grpc.ServiceRegistrar, srv TelemetryServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// Client is the client API of the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StreamSnapshots subscribes to the snapshots of the session named in req.
func (c *Client) StreamSnapshots(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// PushControls opens a controller frame stream.
func (c *Client) PushControls(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], PushControlsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
