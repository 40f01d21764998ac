// Package channel provides an in-memory Go channel transport for moviebus.
// Publishers and subscribers built from the same Builder share one
// GoChannel, so a process can publish and consume without a broker. This
// transport is useful for testing and local development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/moviebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register adds a driver backed by a lazily created process-wide GoChannel
// to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, NewBuilder(nil), transport.ChannelCapabilities)
}

// NewBuilder returns a Builder whose publishers and subscribers share
// pubSub. A nil pubSub is created on first use with Factory.
func NewBuilder(pubSub *gochannel.GoChannel) transport.Builder {
	shared := &sharedChannel{pubSub: pubSub}
	return transport.Builder{
		NewPublisher: func(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return publisher{shared.get(logger)}, nil
		},
		NewSubscriber: func(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return subscriber{shared.get(logger)}, nil
		},
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type sharedChannel struct {
	once   sync.Once
	pubSub *gochannel.GoChannel
}

func (s *sharedChannel) get(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	s.once.Do(func() {
		if s.pubSub == nil {
			s.pubSub = Factory(gochannel.Config{}, logger)
		}
	})
	return s.pubSub
}

// publisher and subscriber do not close the shared GoChannel. Subscriptions
// end when the context passed to Subscribe is cancelled.
type publisher struct {
	pubSub *gochannel.GoChannel
}

func (p publisher) Publish(topic string, messages ...*message.Message) error {
	return p.pubSub.Publish(topic, messages...)
}

func (p publisher) Close() error { return nil }

type subscriber struct {
	pubSub *gochannel.GoChannel
}

func (s subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.pubSub.Subscribe(ctx, topic)
}

func (s subscriber) Close() error { return nil }
