// Package kafka provides the Sarama based Kafka driver for moviebus.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/moviebus/internal/runtime/metadata"
	"github.com/drblury/moviebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// ProbeFactory checks that at least one broker answers a metadata request.
// Tests override it to run without a cluster.
var ProbeFactory = func(brokers []string, cfg *sarama.Config) error {
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return err
	}
	return client.Close()
}

func init() {
	Register()
}

// Register adds the driver to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, transport.Builder{
		NewPublisher:  BuildPublisher,
		NewSubscriber: BuildSubscriber,
	}, transport.KafkaCapabilities)
}

// BuildPublisher creates a synchronous Kafka publisher. Messages carrying a
// partition key are routed by the key hash.
func BuildPublisher(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	applyCommon(saramaCfg, cfg)

	pub, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               cfg.GetKafkaBrokers(),
			Marshaler:             KeyedMarshaler{},
			OverwriteSaramaConfig: saramaCfg,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	notifyConnected(cfg)
	return pub, nil
}

// BuildSubscriber creates a consumer group subscriber after checking the
// brokers are reachable. When the group session is lost the subscriptions
// close and the listener is told, leaving the reconnect to the caller.
func BuildSubscriber(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	applyCommon(saramaCfg, cfg)
	if wait := cfg.GetPollTimeout(); wait > 0 {
		saramaCfg.Consumer.MaxWaitTime = wait
	}
	if cfg.GetFromBeginning() {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if err := ProbeFactory(cfg.GetKafkaBrokers(), saramaCfg); err != nil {
		return nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	if logger == nil {
		logger = watermill.NopLogger{}
	}
	lost := newLostSignal(notifyLost(cfg))
	sub, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               cfg.GetKafkaBrokers(),
			Unmarshaler:           KeyedMarshaler{},
			OverwriteSaramaConfig: saramaCfg,
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			ReconnectRetrySleep:   reconnectSleep(cfg),
		},
		reconnectWatch{LoggerAdapter: logger, lost: lost},
	)
	if err != nil {
		return nil, fmt.Errorf("kafka subscriber: %w", err)
	}
	notifyConnected(cfg)
	return newWatchedSubscriber(sub, lost), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

func applyCommon(saramaCfg *sarama.Config, cfg transport.Config) {
	if id := cfg.GetKafkaClientID(); id != "" {
		saramaCfg.ClientID = id
	}
	if timeout := cfg.GetConnectionTimeout(); timeout > 0 {
		saramaCfg.Net.DialTimeout = timeout
	}
}

// reconnectSleep keeps watermill-kafka's internal retry no faster than the
// runtime's own. Zero lets watermill pick its 1s default.
func reconnectSleep(cfg transport.Config) time.Duration {
	if d := cfg.GetReconnectInterval(); d > 0 {
		return d
	}
	return 0
}

// Sarama does not expose per-broker connection events, so the listener is
// only told about the initial connect.
func notifyConnected(cfg transport.Config) {
	if l := transport.ListenerFor(cfg); l != nil {
		for _, addr := range cfg.GetKafkaBrokers() {
			l.OnConnected(addr)
		}
	}
}

// KeyedMarshaler extends the default marshaler with record keys taken from
// the partition_key metadata, and stamps partition and offset on consumed
// messages.
type KeyedMarshaler struct {
	kafka.DefaultMarshaler
}

func (m KeyedMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	pm, err := m.DefaultMarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}
	if key := msg.Metadata.Get(metadata.KeyPartitionKey); key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	return pm, nil
}

func (m KeyedMarshaler) Unmarshal(cm *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(cm)
	if err != nil {
		return nil, err
	}
	if len(cm.Key) > 0 && msg.Metadata.Get(metadata.KeyPartitionKey) == "" {
		msg.Metadata.Set(metadata.KeyPartitionKey, string(cm.Key))
	}
	msg.Metadata.Set(metadata.KeyTopic, cm.Topic)
	metadata.SetPartition(msg.Metadata, cm.Partition, cm.Offset)
	return msg, nil
}
