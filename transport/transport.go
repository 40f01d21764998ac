// Package transport defines the driver contract used by the publisher and
// the consumer runtimes. Each driver (kafka, franz, channel) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PublisherBuilder opens the producer side of a driver. A returned
// publisher is connected: the driver has reached at least one broker.
type PublisherBuilder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error)

// SubscriberBuilder opens the consumer side of a driver. Builders must
// verify broker reachability so that an error here is a connection error,
// while errors from Subscribe are subscription errors.
type SubscriberBuilder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error)

// Builder pairs the two sides of a driver. They are built separately so a
// publisher never opens consumer connections and vice versa.
type Builder struct {
	NewPublisher  PublisherBuilder
	NewSubscriber SubscriberBuilder
}

// Config provides the values drivers need, without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the driver name.
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	// GetKafkaConsumerGroup is empty for publishers.
	GetKafkaConsumerGroup() string
	// GetTopics is the full topic set of a consumer, empty for publishers.
	GetTopics() []string
	GetConnectionTimeout() time.Duration
	// GetPollTimeout bounds how long one fetch waits for records.
	GetPollTimeout() time.Duration
	GetFromBeginning() bool
	// GetReconnectInterval is the delay between reconnect attempts. Drivers
	// that retry internally must not retry faster than this.
	GetReconnectInterval() time.Duration
}

// ConnectionListener receives broker connection events from drivers that
// can observe them.
type ConnectionListener interface {
	OnConnected(addr string)
	OnDisconnected(addr string, err error)
}

// ListenerConfig is implemented by configs that carry a ConnectionListener.
type ListenerConfig interface {
	Config
	GetConnectionListener() ConnectionListener
}

// ListenerFor returns the listener attached to cfg, or nil.
func ListenerFor(cfg Config) ConnectionListener {
	if lc, ok := cfg.(ListenerConfig); ok {
		return lc.GetConnectionListener()
	}
	return nil
}

// WithListener attaches l to cfg.
func WithListener(cfg Config, l ConnectionListener) Config {
	return listenerConfig{Config: cfg, listener: l}
}

type listenerConfig struct {
	Config
	listener ConnectionListener
}

func (c listenerConfig) GetConnectionListener() ConnectionListener { return c.listener }
