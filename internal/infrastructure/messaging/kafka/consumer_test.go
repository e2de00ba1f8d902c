package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

// mockKafkaReader serves queued messages, then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error { return nil }

func (m *mockKafkaReader) commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

// recordingPublisher captures PublishBatch calls.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
	err  error
}

func (p *recordingPublisher) PublishBatch(_ context.Context, msgs []*ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func newTestConsumer(reader ReaderInterface, dl Publisher, retries int) *Consumer {
	return &Consumer{
		reader: reader,
		config: ConsumerConfig{
			GroupID: "renewal-worker",
			RetryConfig: RetryConfig{
				MaxRetries:      retries,
				RetryBackoff:    time.Millisecond,
				DeadLetterTopic: TopicDeadLetter,
			},
		},
		logger:     logging.NewNopLogger(),
		handlers:   make(map[string]MessageHandler),
		deadLetter: dl,
		metrics:    &ConsumerMetrics{},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	valid := ConsumerConfig{Brokers: []string{"b:9092"}, GroupID: "g", Topics: []string{"t"}}
	assert.NoError(t, ValidateConsumerConfig(valid))

	noGroup := valid
	noGroup.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(noGroup))

	noTopics := valid
	noTopics.Topics = nil
	assert.Error(t, ValidateConsumerConfig(noTopics))

	badReset := valid
	badReset.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(badReset))
}

func TestConsumerConfigFrom(t *testing.T) {
	cfg := ConsumerConfigFrom(config.KafkaConfig{Brokers: []string{"b:9092"}, GroupID: "g", MaxRetries: 2}, TopicRenewalAbandoned)
	assert.Equal(t, []string{TopicRenewalAbandoned}, cfg.Topics)
	assert.Equal(t, TopicDeadLetter, cfg.RetryConfig.DeadLetterTopic)
	assert.Equal(t, 2, cfg.RetryConfig.MaxRetries)
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{}, nil, 1)
	c.running.Store(true)
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))
}

func TestConsumeLoop_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicRenewalAbandoned, Value: []byte("v1"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		{Topic: "unknown.topic", Value: []byte("v2")},
	}}
	c := newTestConsumer(reader, nil, 1)

	handled := make(chan *Message, 1)
	c.Subscribe(TopicRenewalAbandoned, func(_ context.Context, msg *Message) error {
		handled <- msg
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	select {
	case msg := <-handled:
		assert.Equal(t, "v1", string(msg.Value))
		assert.Equal(t, "x", msg.Headers["event_type"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}

	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond,
		"messages without handler are committed too")
	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_RetrySuccess(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{}, nil, 2)

	attempts := 0
	err := c.processMessage(context.Background(), &Message{}, func(context.Context, *Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("fail")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_DeadLetter(t *testing.T) {
	dl := &recordingPublisher{}
	c := newTestConsumer(&mockKafkaReader{}, dl, 1)

	msg := &Message{Topic: TopicRenewalAbandoned, Key: []byte("7"), Value: []byte("v"), Headers: map[string]string{"event_id": "e1"}}
	err := c.processMessage(context.Background(), msg, func(context.Context, *Message) error {
		return errors.New("db down")
	})
	require.NoError(t, err)
	require.Len(t, dl.msgs, 1)
	assert.Equal(t, TopicDeadLetter, dl.msgs[0].Topic)
	assert.Equal(t, TopicRenewalAbandoned, dl.msgs[0].Headers["original_topic"])
	assert.Equal(t, "db down", dl.msgs[0].Headers["error_message"])
	assert.Equal(t, "e1", dl.msgs[0].Headers["event_id"])
	_, polluted := msg.Headers["original_topic"]
	assert.False(t, polluted, "consumed message headers are left untouched")
	assert.Equal(t, int64(1), c.DeadLettered())
}

func TestProcessMessage_CancelledDuringRetry(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{}, nil, 3)
	c.config.RetryConfig.RetryBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.processMessage(ctx, &Message{}, func(context.Context, *Message) error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}
