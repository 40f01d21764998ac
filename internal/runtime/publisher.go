package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	"github.com/drblury/moviebus/internal/runtime/events"
	idspkg "github.com/drblury/moviebus/internal/runtime/ids"
	jsoncodec "github.com/drblury/moviebus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
	"github.com/drblury/moviebus/transport"
)

const publisherComponent = "publisher"

// Producer is the narrow publishing contract handed to application code.
type Producer interface {
	Publish(ctx context.Context, topic string, payload any, key string) error
	PublishBatch(ctx context.Context, topic string, payloads []any) error
}

// Publisher owns the process's single producer connection. It is safe for
// concurrent use. Build it through Bus.Publisher so the process keeps one
// connection.
type Publisher struct {
	endpoint configpkg.Endpoint
	logger   loggingpkg.ServiceLogger
	wmLogger watermill.LoggerAdapter
	registry *transport.Registry
	metrics  *Metrics
	caps     transport.Capabilities

	state stateValue[ConnectionState]

	// connectMu serialises Connect and the retry loop's dials.
	connectMu sync.Mutex
	retrying  bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// mu guards pub. Publishes hold it shared so Close waits for them.
	mu     sync.RWMutex
	pub    message.Publisher
	closed bool
}

// NewPublisher creates a disconnected publisher for endpoint.
func NewPublisher(endpoint configpkg.Endpoint, logger loggingpkg.ServiceLogger, registry *transport.Registry, metrics *Metrics) *Publisher {
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	endpoint.Retry = endpoint.Retry.WithDefaults()
	logger = loggingpkg.ForClient(logger, publisherComponent, endpoint.ClientID, "", nil)
	return &Publisher{
		endpoint: endpoint,
		logger:   logger,
		wmLogger: loggingpkg.NewWatermillAdapter(logger),
		registry: registry,
		metrics:  metrics,
		caps:     registry.GetCapabilities(endpoint.PubSubSystem),
	}
}

// State returns the current connection state.
func (p *Publisher) State() ConnectionState {
	return p.state.Load()
}

// Connect opens the producer connection. It is idempotent: calls made while
// connected or while a retry loop is pending return immediately. When the
// first attempt fails the failure is logged and a background loop keeps
// retrying with the endpoint's retry policy until it succeeds, ctx is
// cancelled or Close is called. Connect only returns an error after Close.
func (p *Publisher) Connect(ctx context.Context) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.RLock()
	closed, pub := p.closed, p.pub
	p.mu.RUnlock()

	if closed {
		return errspkg.ErrClosed
	}
	if p.retrying || (pub != nil && p.State() == Connected) {
		return nil
	}

	err := p.dial(ctx)
	if err == nil {
		return nil
	}

	retryCtx, cancel := context.WithCancel(ctx)
	p.retrying = true
	p.cancel = cancel
	p.wg.Add(1)
	go p.retry(retryCtx)
	return nil
}

// dial replaces any previous producer with a fresh one. Callers hold connectMu.
func (p *Publisher) dial(ctx context.Context) error {
	p.setState(Connecting)
	p.logger.Info("Connecting publisher", loggingpkg.LogFields{
		"brokers":       p.endpoint.Brokers,
		"pubsub_system": p.endpoint.PubSubSystem,
	})

	pub, err := p.registry.BuildPublisher(ctx, transport.WithListener(p.endpoint, p), p.wmLogger)
	if err != nil {
		p.setState(Disconnected)
		connErr := &errspkg.ConnectionError{Component: publisherComponent, Brokers: p.endpoint.Brokers, Err: err}
		p.logger.Error("Publisher connection failed", connErr, nil)
		return connErr
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = pub.Close()
		return errspkg.ErrClosed
	}
	previous := p.pub
	p.pub = pub
	p.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			p.logger.Error("Failed to close previous producer", err, nil)
		}
	}

	p.setState(Connected)
	p.logger.Info("Publisher connected", nil)
	return nil
}

func (p *Publisher) retry(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		p.connectMu.Lock()
		p.retrying = false
		p.connectMu.Unlock()
	}()

	policy := p.endpoint.Retry
	schedule := newBackOff(policy)
	for attempt := 1; ; attempt++ {
		if exhausted(policy, attempt) {
			p.logger.Error("Publisher reconnect attempts exhausted", errspkg.ErrRetriesExhausted, loggingpkg.LogFields{
				"attempts": attempt - 1,
			})
			return
		}

		delay := schedule.NextBackOff()
		p.logger.Info("Reconnect scheduled", loggingpkg.Retry(attempt, delay))
		p.metrics.ReconnectScheduled(publisherComponent)
		if !sleepContext(ctx, delay) {
			return
		}

		p.connectMu.Lock()
		err := p.dial(ctx)
		p.connectMu.Unlock()
		if err == nil || errors.Is(err, errspkg.ErrClosed) {
			return
		}
	}
}

// Publish marshals payload to JSON and sends it to topic. A non-empty key
// selects the partition; otherwise a payload implementing events.Keyed
// supplies it. Broker rejections are returned as *errors.SendFailure.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any, key string) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg, err := p.newMessage(payload, key)
	if err != nil {
		return err
	}
	return p.send(ctx, topic, msg)
}

// PublishBatch sends payloads to topic in a single producer call. Delivery
// is not atomic: on failure some records may already be stored, and the
// caller decides whether to retry the batch.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, payloads []any) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if len(payloads) == 0 {
		return nil
	}
	msgs := make([]*message.Message, 0, len(payloads))
	for i, payload := range payloads {
		msg, err := p.newMessage(payload, "")
		if err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return p.send(ctx, topic, msgs...)
}

// PublishViewEvent records a movie view on the movie-views topic.
func (p *Publisher) PublishViewEvent(ctx context.Context, userID, movieID string) error {
	ev := events.NewMovieEvent(events.MovieView, userID, movieID, nil)
	return p.Publish(ctx, configpkg.TopicMovieViews, ev, movieID)
}

// PublishMovieEvent publishes a movie interaction keyed by movie id.
func (p *Publisher) PublishMovieEvent(ctx context.Context, eventType, userID, movieID string, metadata map[string]any) error {
	if !events.IsMovieEventType(eventType) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, eventType)
	}
	ev := events.NewMovieEvent(eventType, userID, movieID, metadata)
	return p.Publish(ctx, configpkg.TopicMovieEvents, ev, movieID)
}

// PublishAnalyticsEvent publishes a tracking event keyed by session id. An
// empty session id is replaced by a generated one.
func (p *Publisher) PublishAnalyticsEvent(ctx context.Context, eventType, sessionID string, data map[string]any, userID string) error {
	if !events.IsAnalyticsEventType(eventType) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, eventType)
	}
	if sessionID == "" {
		sessionID = idspkg.NewSessionID()
	}
	ev := events.NewAnalyticsEvent(eventType, sessionID, data, userID)
	return p.Publish(ctx, configpkg.TopicAnalyticsEvents, ev, sessionID)
}

func (p *Publisher) newMessage(payload any, key string) (*message.Message, error) {
	if payload == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	var body []byte
	switch v := payload.(type) {
	case []byte:
		if !jsoncodec.Valid(v) {
			return nil, errors.New("moviebus: raw payload is not valid JSON")
		}
		body = v
	default:
		var err error
		if body, err = jsoncodec.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	if key == "" {
		if keyed, ok := payload.(events.Keyed); ok {
			key = keyed.PartitionKey()
		}
	}

	var eventType string
	if ev, ok := payload.(events.Event); ok {
		eventType = ev.Type()
	}

	msg := message.NewMessage(idspkg.New(), body)
	metadatapkg.Stamp(msg.Metadata, key, eventType, time.Now())
	return msg, nil
}

func (p *Publisher) send(ctx context.Context, topic string, msgs ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errspkg.ErrClosed
	}
	if p.pub == nil {
		return errspkg.ErrNotConnected
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "PublishMessage", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.Int("messaging.batch.message_count", len(msgs)),
	)

	for _, msg := range msgs {
		msg.SetContext(ctx)
		if !p.caps.SupportsPartitioning && msg.Metadata.Get(metadatapkg.KeyPartitionKey) != "" {
			p.logger.Trace("Transport ignores partition keys", loggingpkg.LogFields{loggingpkg.FieldTopic: topic})
		}
	}

	if err := p.pub.Publish(topic, msgs...); err != nil {
		p.metrics.PublishFailed(topic, len(msgs))
		failure := &errspkg.SendFailure{Topic: topic, Messages: len(msgs), Err: err}
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
		p.logger.Error("Publish failed", failure, loggingpkg.LogFields{loggingpkg.FieldTopic: topic})
		return failure
	}
	p.metrics.Published(topic, len(msgs))
	return nil
}

// OnConnected implements transport.ConnectionListener.
func (p *Publisher) OnConnected(addr string) {
	p.logger.Debug("Broker connected", loggingpkg.LogFields{loggingpkg.FieldBroker: addr})
}

// OnDisconnected implements transport.ConnectionListener. A lost connection
// is logged and reflected in State. It does not start a reconnect: only
// Connect does.
func (p *Publisher) OnDisconnected(addr string, err error) {
	if err == nil {
		p.logger.Debug("Broker connection closed", loggingpkg.LogFields{loggingpkg.FieldBroker: addr})
		return
	}
	p.mu.RLock()
	live := p.pub != nil && !p.closed
	p.mu.RUnlock()
	if live {
		p.setState(Disconnected)
	}
	p.logger.Error("Publisher disconnected", err, loggingpkg.LogFields{loggingpkg.FieldBroker: addr})
}

// Close stops a pending retry loop and closes the producer. It is idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pub := p.pub
	p.pub = nil
	p.mu.Unlock()

	p.connectMu.Lock()
	cancel := p.cancel
	p.connectMu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.setState(Disconnected)
	if pub == nil {
		return nil
	}
	if err := pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	p.logger.Info("Publisher closed", nil)
	return nil
}

func (p *Publisher) setState(s ConnectionState) {
	if prev := p.state.Swap(s); prev != s {
		p.metrics.SetConnected(publisherComponent, s == Connected)
	}
}
