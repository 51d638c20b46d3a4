package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "motioncor.v1.MotionCorrection"

// MotionCorrectionServer is the server API. Messages are protobuf Structs
// so the service needs no generated code.
//
//	Submit        {type, input, output, options} -> {id, status}
//	GetJob        {id} -> {id, type, status, input, output, error, meta}
//	GetTrajectory {id} -> {id, shifts: [{frame, x, y}]}
//	WatchProgress {id?} -> stream of progress and result events
type MotionCorrectionServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrajectory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchProgress(*structpb.Struct, grpc.ServerStream) error
}

// RegisterMotionCorrectionServer registers srv on s.
func RegisterMotionCorrectionServer(s grpc.ServiceRegistrar, srv MotionCorrectionServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MotionCorrectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", MotionCorrectionServer.Submit)},
		{MethodName: "GetJob", Handler: unaryHandler("GetJob", MotionCorrectionServer.GetJob)},
		{MethodName: "GetTrajectory", Handler: unaryHandler("GetTrajectory", MotionCorrectionServer.GetTrajectory)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchProgress",
			Handler:       watchProgressHandler,
			ServerStreams: true,
		},
	},
	Metadata: "motioncor/v1/motioncor.proto",
}

type unaryMethod func(MotionCorrectionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MotionCorrectionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MotionCorrectionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchProgressHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MotionCorrectionServer).WatchProgress(in, stream)
}

// Client calls a MotionCorrection service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Submit queues a job and returns its id.
func (c *Client) Submit(ctx context.Context, jobType, input, output string, options map[string]any) (string, error) {
	req := map[string]any{"type": jobType, "input": input, "output": output}
	if options != nil {
		req["options"] = options
	}
	out, err := c.invoke(ctx, "Submit", req)
	if err != nil {
		return "", err
	}
	id, _ := out["id"].(string)
	return id, nil
}

// GetJob returns the job record as a map.
func (c *Client) GetJob(ctx context.Context, id string) (map[string]any, error) {
	return c.invoke(ctx, "GetJob", map[string]any{"id": id})
}

// GetTrajectory returns per-frame (x, y) shifts.
func (c *Client) GetTrajectory(ctx context.Context, id string) (xs, ys []float64, err error) {
	out, err := c.invoke(ctx, "GetTrajectory", map[string]any{"id": id})
	if err != nil {
		return nil, nil, err
	}
	shifts, _ := out["shifts"].([]any)
	for _, s := range shifts {
		m, _ := s.(map[string]any)
		x, _ := m["x"].(float64)
		y, _ := m["y"].(float64)
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys, nil
}

// WatchProgress streams events, optionally for one job id, until ctx ends
// or the server closes the stream. fn returning an error stops the watch.
func (c *Client) WatchProgress(ctx context.Context, id string, fn func(map[string]any) error) error {
	desc := &serviceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+ServiceName+"/WatchProgress")
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		ev := new(structpb.Struct)
		if err := stream.RecvMsg(ev); err != nil {
			return err
		}
		if err := fn(ev.AsMap()); err != nil {
			return err
		}
	}
}
