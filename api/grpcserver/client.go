package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"conduit/domain/event"
)

// Client calls conduit.v1.Fanout over an existing connection.
type Client struct {
	cc         grpc.ClientConnInterface
	serializer event.Serializer
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, serializer: event.BinarySerializer{}}
}

// Publish sends payload under topic and returns its sequence number.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opts ...grpc.CallOption) (uint64, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, TopicHeader, topic)
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, publishMethod, wrapperspb.Bytes(payload), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Subscribe opens a stream of envelopes on topic, or on every topic when
// topic is empty. Cancel ctx to end it.
func (c *Client) Subscribe(ctx context.Context, topic string, opts ...grpc.CallOption) (*Stream, error) {
	cs, err := c.cc.NewStream(ctx, &FanoutServiceDesc.Streams[0], subscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(wrapperspb.String(topic)); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs, serializer: c.serializer}, nil
}

type Stream struct {
	cs         grpc.ClientStream
	serializer event.Serializer
}

// Recv blocks for the next envelope.
func (s *Stream) Recv() (*event.Envelope, error) {
	m := new(wrapperspb.BytesValue)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return s.serializer.Decode(m.GetValue())
}
