package visualiser

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "motiontrail.visualiser.Visualiser"

const (
	streamFramesMethod = "/" + ServiceName + "/StreamFrames"
	getStatusMethod    = "/" + ServiceName + "/GetStatus"
)

// VisualiserServer is the server API of the visualiser service.
type VisualiserServer interface {
	// StreamFrames sends every published frame as a PNG until the client
	// goes away or the publisher stops.
	StreamFrames(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Server implements VisualiserServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a service backed by publisher.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamFrames implements VisualiserServer.
func (s *Server) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	client, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case frame := <-client.frameCh:
			if err := stream.Send(wrapperspb.Bytes(frame.PNG)); err != nil {
				log.Printf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

// GetStatus implements VisualiserServer.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st := s.publisher.Stats()
	fields := map[string]any{
		"frame_count":    st.FrameCount,
		"encoded_count":  st.EncodedCount,
		"dropped_frames": st.DroppedFrames,
		"encode_errors":  st.EncodeErrors,
		"client_count":   st.ClientCount,
		"running":        st.Running,
	}
	if latest := s.publisher.Latest(); latest != nil {
		fields["latest_tick"] = latest.Tick
	}
	return structpb.NewStruct(fields)
}

// RegisterService registers server on grpcServer.
func RegisterService(grpcServer *grpc.Server, server VisualiserServer) {
	grpcServer.RegisterService(&serviceDesc, server)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(VisualiserServer).StreamFrames(m, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VisualiserServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VisualiserServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VisualiserServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "motiontrail/visualiser.proto",
}

// Subscribe opens a frame stream on conn. Each received message holds one
// PNG-encoded frame.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamFramesMethod)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// FetchStatus calls GetStatus on conn.
func FetchStatus(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
