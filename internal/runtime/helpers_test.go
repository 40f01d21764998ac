package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	"github.com/drblury/moviebus/transport"
	"github.com/drblury/moviebus/transport/channel"
)

const testTransport = "channel"

var errBrokerDown = errors.New("broker unreachable")

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger captures every entry, including those of derived loggers.
type recordingLogger struct {
	sink   *logSink
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{sink: l.sink, fields: merged}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

// count returns how many entries were logged with msg.
func (l *recordingLogger) count(msg string) int {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	n := 0
	for _, e := range l.sink.entries {
		if e.msg == msg {
			n++
		}
	}
	return n
}

func (l *recordingLogger) find(msg string) []logEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	var out []logEntry
	for _, e := range l.sink.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// testBroker is an in-process broker whose connections can be made to fail.
type testBroker struct {
	pubSub *gochannel.GoChannel
	base   transport.Builder

	failSubscribers atomic.Int32
	failPublishers  atomic.Int32
	subscriberDials atomic.Int32
	publisherDials  atomic.Int32

	// wrapSubscriber, when set, replaces the subscriber handed to runtimes.
	wrapSubscriber func(message.Subscriber) message.Subscriber
	// wrapPublisher, when set, replaces the publisher handed to publishers.
	wrapPublisher func(message.Publisher) message.Publisher
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return &testBroker{pubSub: pubSub, base: channel.NewBuilder(pubSub)}
}

func (b *testBroker) registry() *transport.Registry {
	r := transport.NewRegistry()
	r.RegisterWithCapabilities(testTransport, transport.Builder{
		NewPublisher: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			b.publisherDials.Add(1)
			if b.failPublishers.Add(-1) >= 0 {
				return nil, errBrokerDown
			}
			pub, err := b.base.NewPublisher(ctx, cfg, logger)
			if err != nil || b.wrapPublisher == nil {
				return pub, err
			}
			return b.wrapPublisher(pub), nil
		},
		NewSubscriber: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			b.subscriberDials.Add(1)
			if b.failSubscribers.Add(-1) >= 0 {
				return nil, errBrokerDown
			}
			sub, err := b.base.NewSubscriber(ctx, cfg, logger)
			if err != nil || b.wrapSubscriber == nil {
				return sub, err
			}
			return b.wrapSubscriber(sub), nil
		},
	}, transport.ChannelCapabilities)
	return r
}

func fastRetry() configpkg.RetryPolicy {
	return configpkg.RetryPolicy{InitialBackoff: 50 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
}

func testConsumerConfig(name string, topics ...string) configpkg.ConsumerConfig {
	return configpkg.ConsumerConfig{
		Name:         name,
		PubSubSystem: testTransport,
		ClientID:     name + "-consumer",
		GroupID:      name + "-group",
		Topics:       topics,
		Retry:        fastRetry(),
	}
}

func testEndpoint() configpkg.Endpoint {
	return configpkg.Endpoint{
		PubSubSystem: testTransport,
		ClientID:     "movie-stream-producer",
		Retry:        fastRetry(),
	}
}

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if err := m.Register(); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	return m, reg
}

// startRuntime runs rt in the background and stops it when the test ends.
func startRuntime(t *testing.T, rt *ConsumerRuntime) {
	t.Helper()
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Stop(ctx)
	})
}

func waitForState(t *testing.T, rt *ConsumerRuntime, want ConsumerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rt.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runtime %s did not reach %s, state is %s", rt.Name(), want, rt.State())
}

func connectedPublisher(t *testing.T, broker *testBroker, metrics *Metrics) *Publisher {
	t.Helper()
	pub := NewPublisher(testEndpoint(), loggingpkg.NewNopServiceLogger(), broker.registry(), metrics)
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	return pub
}
