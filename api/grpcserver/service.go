package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The Fanout service uses well-known wrapper messages only, so its
// descriptor is written out here instead of generated.

const (
	ServiceName = "conduit.v1.Fanout"

	// TopicHeader carries the topic of a Publish call.
	TopicHeader = "x-conduit-topic"

	publishMethod   = "/" + ServiceName + "/Publish"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// FanoutServer is the server side of conduit.v1.Fanout.
type FanoutServer interface {
	// Publish appends the payload under the topic in TopicHeader and
	// returns the assigned sequence number.
	Publish(context.Context, *wrapperspb.BytesValue) (*wrapperspb.UInt64Value, error)
	// Subscribe streams binary encoded envelopes. An empty topic
	// subscribes to every topic.
	Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

var FanoutServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FanoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "conduit/v1/fanout.proto",
}

// RegisterFanoutServer registers srv on s.
func RegisterFanoutServer(s grpc.ServiceRegistrar, srv FanoutServer) {
	s.RegisterService(&FanoutServiceDesc, srv)
}

func publishHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FanoutServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: publishMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FanoutServer).Publish(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FanoutServer).Subscribe(
		in,
		&grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream},
	)
}
