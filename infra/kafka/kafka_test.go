package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaProducerSend(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "payload" {
			return errors.New("unexpected value " + string(val))
		}
		return nil
	})
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := WrapSaramaProducer(mp, "events")
	defer p.Close()

	require.NoError(t, p.Send(context.Background(), []byte("k"), []byte("payload")))

	err := p.Send(context.Background(), []byte("k"), []byte("again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Equal(t, "sarama", p.Name())
}

func TestSaramaProducerCancelled(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	p := WrapSaramaProducer(mp, "events")
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Send(ctx, nil, []byte("x")), context.Canceled)
}

func TestSaramaConfigValid(t *testing.T) {
	require.NoError(t, NewSaramaConfig().Validate())
}

// -------------------- Consumer --------------------

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumerCommitsAfterHandler(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Key: []byte("a"), Value: []byte("1")},
		{Offset: 2, Key: []byte("b"), Value: []byte("2")},
	}}
	c := &Consumer{reader: r}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := c.Consume(ctx, func(key, value []byte) error {
		got = append(got, string(key)+"="+string(value))
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "b=2"}, got)
	// the commit of the second message runs with a cancelled context
	// and the fake accepts it
	assert.Equal(t, []int64{1, 2}, r.committed)

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestConsumerHandlerErrorStopsWithoutCommit(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 5}}}
	c := &Consumer{reader: r}

	boom := errors.New("boom")
	err := c.Consume(context.Background(), func(_, _ []byte) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.committed)
}

func TestProducerDefaults(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "events")
	assert.Equal(t, "kafka-go", p.Name())
	assert.Equal(t, "events", p.writer.Topic)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.False(t, p.writer.Async)
	require.NoError(t, p.Close())
}

func TestProducerOptions(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "events",
		WithBalancer(&kafka.RoundRobin{}),
		WithBatchTimeout(time.Second),
	)
	defer p.Close()
	assert.IsType(t, &kafka.RoundRobin{}, p.writer.Balancer)
	assert.Equal(t, time.Second, p.writer.BatchTimeout)
}
