package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryNamesAndCapabilities(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Names())

	r.Register("franz-test", mockBuilder())
	r.RegisterWithCapabilities("kafka-test", mockBuilder(), KafkaCapabilities)
	r.RegisterWithCapabilities("unnamed", mockBuilder(), Capabilities{SupportsAck: true})

	assert.Equal(t, []string{"franz-test", "kafka-test", "unnamed"}, r.Names())
	assert.True(t, r.Has("kafka-test"))
	assert.False(t, r.Has("rabbit"))
	assert.Equal(t, KafkaCapabilities, r.GetCapabilities("kafka-test"))
	assert.Equal(t, Capabilities{Name: "franz-test"}, r.GetCapabilities("franz-test"))
	assert.Equal(t, Capabilities{Name: "unnamed", SupportsAck: true}, r.GetCapabilities("unnamed"))
	assert.Equal(t, Capabilities{Name: "rabbit"}, r.GetCapabilities("rabbit"))
}

func TestRegistryReplacesDriver(t *testing.T) {
	r := NewRegistry()
	r.RegisterWithCapabilities("kafka", mockBuilder(), KafkaCapabilities)
	r.RegisterWithCapabilities("kafka", mockBuilder(), FranzCapabilities)

	assert.Equal(t, []string{"kafka"}, r.Names())
	assert.True(t, r.GetCapabilities("kafka").ReportsConnectionEvents)
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry()
	r.Register("mock", mockBuilder())

	t.Run("builds both sides", func(t *testing.T) {
		pub, err := r.BuildPublisher(context.Background(), &mockConfig{system: "mock"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.IsType(t, &mockPublisher{}, pub)

		sub, err := r.BuildSubscriber(context.Background(), &mockConfig{system: "mock"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.IsType(t, &mockSubscriber{}, sub)
	})

	t.Run("unknown transport", func(t *testing.T) {
		_, err := r.BuildPublisher(context.Background(), &mockConfig{system: "nope"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, ErrUnknownTransport)
		assert.ErrorContains(t, err, `"nope"`)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := r.BuildSubscriber(context.Background(), nil, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("missing side", func(t *testing.T) {
		r.Register("pub-only", Builder{NewPublisher: mockBuilder().NewPublisher})
		_, err := r.BuildSubscriber(context.Background(), &mockConfig{system: "pub-only"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, ErrUnsupportedSide)
		assert.ErrorContains(t, err, "has no subscriber")
	})

	t.Run("builder error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		r.Register("failing", Builder{
			NewSubscriber: func(context.Context, Config, watermill.LoggerAdapter) (message.Subscriber, error) {
				return nil, boom
			},
		})
		_, err := r.BuildSubscriber(context.Background(), &mockConfig{system: "failing"}, watermill.NopLogger{})
		assert.ErrorIs(t, err, boom)
	})
}

func TestListenerFor(t *testing.T) {
	cfg := &mockConfig{system: "mock"}
	assert.Nil(t, ListenerFor(cfg))

	l := &nopListener{}
	wrapped := WithListener(cfg, l)
	assert.Equal(t, l, ListenerFor(wrapped))
	assert.Equal(t, "mock", wrapped.GetPubSubSystem())
}

func TestCapabilitiesReliableDelivery(t *testing.T) {
	assert.True(t, FranzCapabilities.SupportsReliableDelivery())
	assert.False(t, Capabilities{SupportsAck: true}.SupportsReliableDelivery())
}

func mockBuilder() Builder {
	return Builder{
		NewPublisher: func(context.Context, Config, watermill.LoggerAdapter) (message.Publisher, error) {
			return &mockPublisher{}, nil
		},
		NewSubscriber: func(context.Context, Config, watermill.LoggerAdapter) (message.Subscriber, error) {
			return &mockSubscriber{}, nil
		},
	}
}

type mockConfig struct {
	system string
}

func (m *mockConfig) GetPubSubSystem() string             { return m.system }
func (m *mockConfig) GetKafkaBrokers() []string           { return []string{"localhost:9092"} }
func (m *mockConfig) GetKafkaClientID() string            { return "client" }
func (m *mockConfig) GetKafkaConsumerGroup() string       { return "group" }
func (m *mockConfig) GetTopics() []string                 { return []string{"movie-events"} }
func (m *mockConfig) GetConnectionTimeout() time.Duration { return time.Second }
func (m *mockConfig) GetPollTimeout() time.Duration       { return 0 }
func (m *mockConfig) GetFromBeginning() bool              { return false }
func (m *mockConfig) GetReconnectInterval() time.Duration { return time.Second }

type nopListener struct{}

func (nopListener) OnConnected(string)           {}
func (nopListener) OnDisconnected(string, error) {}

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
