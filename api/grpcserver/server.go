// Package grpcserver exposes the hub over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"conduit/domain/event"
	"conduit/infra/logger"
	"conduit/service"
)

// Server adapts the hub to conduit.v1.Fanout.
type Server struct {
	hub        *service.Hub
	serializer event.Serializer
	log        *zap.Logger
}

var _ FanoutServer = (*Server)(nil)

func NewServer(hub *service.Hub, log *zap.Logger) *Server {
	return &Server{
		hub:        hub,
		serializer: event.BinarySerializer{},
		log:        logger.OrNop(log).Named("grpc"),
	}
}

// -------------------- Commands --------------------

func (s *Server) Publish(
	ctx context.Context,
	req *wrapperspb.BytesValue,
) (*wrapperspb.UInt64Value, error) {
	topic := topicFrom(ctx)
	if topic == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s metadata", TopicHeader)
	}

	env, err := s.hub.Publish(topic, req.GetValue())
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	s.log.Debug("publish",
		zap.String("topic", topic),
		zap.Uint64("seq", env.Seq),
		zap.Int("bytes", len(req.GetValue())),
	)
	return wrapperspb.UInt64(env.Seq), nil
}

// -------------------- Streams --------------------

func (s *Server) Subscribe(
	req *wrapperspb.StringValue,
	stream grpc.ServerStreamingServer[wrapperspb.BytesValue],
) error {
	var topics []string
	if t := req.GetValue(); t != "" {
		topics = append(topics, t)
	}
	feed := s.hub.Subscribe(topics...)
	defer feed.Close()

	ctx := stream.Context()
	s.log.Debug("subscribe", zap.Stringer("feed", feed.ID), zap.Strings("topics", topics))

	for {
		env, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return status.Error(codes.Unavailable, err.Error())
		}
		data, err := s.serializer.Encode(&env)
		if err != nil {
			return status.Errorf(codes.Internal, "encode seq %d: %v", env.Seq, err)
		}
		if err := stream.Send(wrapperspb.Bytes(data)); err != nil {
			return err
		}
	}
}

// -------------------- Interceptors --------------------

// UnaryLogger logs every unary call with its status code and latency.
func UnaryLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log).Named("grpc")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("call",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("took", time.Since(start)),
		)
		return resp, err
	}
}

// -------------------- Helpers --------------------

func topicFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(TopicHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}
