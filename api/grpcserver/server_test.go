package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"conduit/infra/sequence"
	"conduit/service"
)

func setup(t *testing.T) (*service.Hub, *Client) {
	t.Helper()

	hub := service.NewHub(sequence.New(0), nil, nil)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(nil)))
	RegisterFanoutServer(srv, NewServer(hub, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return hub, NewClient(conn)
}

func TestPublishAssignsSequence(t *testing.T) {
	hub, client := setup(t)
	ctx := context.Background()

	seq, err := client.Publish(ctx, "orders", []byte("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)

	seq, err = client.Publish(ctx, "orders", []byte("b"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq)
	assert.EqualValues(t, 2, hub.LastSeq())
}

func TestPublishRequiresTopic(t *testing.T) {
	_, client := setup(t)

	_, err := client.Publish(context.Background(), "", []byte("a"))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSubscribeStreamsEnvelopes(t *testing.T) {
	hub, client := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx, "trades")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = client.Publish(ctx, "orders", []byte("skip"))
	require.NoError(t, err)
	_, err = client.Publish(ctx, "trades", []byte("t1"))
	require.NoError(t, err)
	hub.Publish("trades", []byte("t2"))

	env, err := stream.Recv()
	require.NoError(t, err)
	assert.EqualValues(t, 2, env.Seq)
	assert.Equal(t, "trades", env.Topic)
	assert.Equal(t, "t1", string(env.Payload))
	assert.NotZero(t, env.Time)

	env, err = stream.Recv()
	require.NoError(t, err)
	assert.EqualValues(t, 3, env.Seq)
	assert.Equal(t, "t2", string(env.Payload))

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeAllTopics(t *testing.T) {
	hub, client := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish("a", []byte("1"))
	hub.Publish("b", []byte("2"))

	for _, want := range []string{"a", "b"} {
		env, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, env.Topic)
	}
}
