package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/moviebus/transport"
)

// driverReconnectLog is the line watermill-kafka logs before it rebuilds a
// consumer group session on its own.
const driverReconnectLog = "Reconnecting consumer"

// ErrConsumerLost is reported to the connection listener when the Sarama
// consumer group session ended without a shutdown.
var ErrConsumerLost = errors.New("kafka: consumer group session lost")

// lostSignal fires once, at the first driver-level reconnect.
type lostSignal struct {
	once   sync.Once
	ch     chan struct{}
	notify func()
}

func newLostSignal(notify func()) *lostSignal {
	return &lostSignal{ch: make(chan struct{}), notify: notify}
}

func (s *lostSignal) fire() {
	s.once.Do(func() {
		close(s.ch)
		if s.notify != nil {
			s.notify()
		}
	})
}

// reconnectWatch passes every line through and fires lost when
// watermill-kafka starts reconnecting by itself.
type reconnectWatch struct {
	watermill.LoggerAdapter
	lost *lostSignal
}

func (w reconnectWatch) Info(msg string, fields watermill.LogFields) {
	w.LoggerAdapter.Info(msg, fields)
	if msg == driverReconnectLog {
		w.lost.fire()
	}
}

func (w reconnectWatch) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return reconnectWatch{LoggerAdapter: w.LoggerAdapter.With(fields), lost: w.lost}
}

// watchedSubscriber closes every subscription once the session is lost so
// the consumer runtime reconnects with its own policy instead of the
// driver retrying behind its back.
type watchedSubscriber struct {
	message.Subscriber
	lost *lostSignal

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWatchedSubscriber(sub message.Subscriber, lost *lostSignal) *watchedSubscriber {
	return &watchedSubscriber{Subscriber: sub, lost: lost, closing: make(chan struct{})}
}

func (s *watchedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		for {
			select {
			case <-s.lost.ch:
				return
			case <-s.closing:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-s.lost.ch:
					msg.Nack()
					return
				case <-s.closing:
					msg.Nack()
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *watchedSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.Subscriber.Close()
	s.wg.Wait()
	return err
}

func notifyLost(cfg transport.Config) func() {
	l := transport.ListenerFor(cfg)
	if l == nil {
		return nil
	}
	brokers := strings.Join(cfg.GetKafkaBrokers(), ",")
	return func() { l.OnDisconnected(brokers, ErrConsumerLost) }
}
