package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
	"github.com/drblury/moviebus/transport"
)

// Record is one consumed message as seen by a MessageHandler.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     []byte
	UUID      string
	Metadata  metadatapkg.Metadata
}

// MessageHandler processes one record. A returned error or a panic is
// logged once and the record is still committed.
type MessageHandler func(ctx context.Context, rec Record) error

// ConsumerOption configures a ConsumerRuntime.
type ConsumerOption func(*ConsumerRuntime)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger loggingpkg.ServiceLogger) ConsumerOption {
	return func(c *ConsumerRuntime) { c.logger = logger }
}

// WithTransportRegistry sets the registry drivers are looked up in.
func WithTransportRegistry(registry *transport.Registry) ConsumerOption {
	return func(c *ConsumerRuntime) { c.registry = registry }
}

// WithMetrics sets the collectors the runtime reports to.
func WithMetrics(metrics *Metrics) ConsumerOption {
	return func(c *ConsumerRuntime) { c.metrics = metrics }
}

// WithJobHooks installs dispatch hooks.
func WithJobHooks(hooks JobHooks) ConsumerOption {
	return func(c *ConsumerRuntime) { c.hooks = c.hooks.Merge(hooks) }
}

// WithMiddlewares appends middlewares inside the default chain, just
// outside the panic recoverer.
func WithMiddlewares(mws ...message.HandlerMiddleware) ConsumerOption {
	return func(c *ConsumerRuntime) { c.middlewares = append(c.middlewares, mws...) }
}

// ConsumerRuntime subscribes one consumer group to a set of topics and
// dispatches every record to its handler, one at a time. Connection
// failures lead to a full reconnect and resubscribe after the retry
// policy's delay.
type ConsumerRuntime struct {
	conf        configpkg.ConsumerConfig
	handler     MessageHandler
	logger      loggingpkg.ServiceLogger
	wmLogger    watermill.LoggerAdapter
	registry    *transport.Registry
	metrics     *Metrics
	hooks       JobHooks
	middlewares []message.HandlerMiddleware
	process     message.HandlerFunc

	state      stateValue[ConsumerState]
	running    atomic.Bool
	subscribed atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// NewConsumerRuntime validates conf and builds an idle runtime.
func NewConsumerRuntime(conf configpkg.ConsumerConfig, handler MessageHandler, opts ...ConsumerOption) (*ConsumerRuntime, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if conf.Name == "" {
		conf.Name = conf.GroupID
	}
	conf.Retry = conf.Retry.WithDefaults()

	c := &ConsumerRuntime{
		conf:    conf,
		handler: handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = transport.DefaultRegistry
	}
	c.logger = loggingpkg.ForClient(c.logger, "consumer", conf.ClientID, conf.GroupID, loggingpkg.LogFields{
		loggingpkg.FieldConsumer: conf.Name,
	})
	c.wmLogger = loggingpkg.NewWatermillAdapter(c.logger)
	c.process = buildChain(c.invoke, c.defaultMiddlewares()...)
	return c, nil
}

// Name returns the consumer's family name.
func (c *ConsumerRuntime) Name() string { return c.conf.Name }

// Config returns the configuration the runtime was built with.
func (c *ConsumerRuntime) Config() configpkg.ConsumerConfig { return c.conf }

// State returns the current lifecycle state.
func (c *ConsumerRuntime) State() ConsumerState { return c.state.Load() }

// Run connects, subscribes and dispatches until ctx is cancelled. It
// returns nil on shutdown, a *errors.SubscriptionError when the very first
// subscription fails, and ErrRetriesExhausted when a bounded retry policy
// gives up. Every other failure is retried.
func (c *ConsumerRuntime) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.setState(StateIdle)

	policy := c.conf.Retry
	schedule := newBackOff(policy)
	attempt := 0

	for {
		polled, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if polled {
			attempt = 0
			schedule.Reset()
		}

		var subErr *errspkg.SubscriptionError
		if errors.As(err, &subErr) && !c.subscribed.Load() {
			c.logger.Error("Subscription failed", err, loggingpkg.LogFields{loggingpkg.FieldTopic: subErr.Topic})
			return err
		}

		attempt++
		if exhausted(policy, attempt) {
			c.logger.Error("Consumer reconnect attempts exhausted", err, loggingpkg.LogFields{"attempts": attempt - 1})
			return fmt.Errorf("%w: %w", errspkg.ErrRetriesExhausted, err)
		}

		delay := schedule.NextBackOff()
		c.setState(StateReconnecting)
		c.logger.Error("Reconnect scheduled", err, loggingpkg.Retry(attempt, delay))
		c.metrics.ReconnectScheduled(c.conf.Name)
		if !sleepContext(ctx, delay) {
			return nil
		}
	}
}

type delivery struct {
	topic string
	msg   *message.Message
}

// session runs one connect, subscribe and poll cycle. polled reports
// whether the cycle reached the poll loop.
func (c *ConsumerRuntime) session(ctx context.Context) (polled bool, err error) {
	c.setState(StateConnecting)
	c.logger.Info("Consumer connecting", loggingpkg.LogFields{
		"brokers": c.conf.Brokers,
		"topics":  c.conf.Topics,
	})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan delivery)
	lost := make(chan string, len(c.conf.Topics))
	// forwarders exit once disconnect has cancelled sessCtx
	var forwarders sync.WaitGroup
	defer forwarders.Wait()

	sub, err := c.registry.BuildSubscriber(sessCtx, transport.WithListener(c.conf, c), c.wmLogger)
	if err != nil {
		return false, &errspkg.ConnectionError{Component: c.conf.Name, Brokers: c.conf.Brokers, Err: err}
	}
	defer c.disconnect(sub, cancel)

	for _, topic := range c.conf.Topics {
		ch, err := sub.Subscribe(sessCtx, topic)
		if err != nil {
			return false, &errspkg.SubscriptionError{Topic: topic, Err: err}
		}
		c.logger.Info("Subscribed", loggingpkg.LogFields{loggingpkg.FieldTopic: topic})

		forwarders.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer forwarders.Done()
			forward(sessCtx, topic, ch, deliveries, lost)
		}(topic, ch)
	}
	c.subscribed.Store(true)
	c.setState(StateSubscribed)

	c.setState(StatePolling)
	for {
		select {
		case <-sessCtx.Done():
			return true, nil
		case topic := <-lost:
			return true, &errspkg.ConnectionError{
				Component: c.conf.Name,
				Brokers:   c.conf.Brokers,
				Err:       fmt.Errorf("subscription to %q closed", topic),
			}
		case d := <-deliveries:
			c.dispatch(sessCtx, d)
			c.setState(StatePolling)
		}
	}
}

// forward moves messages of one topic onto the shared delivery channel so
// the poll loop handles every topic sequentially.
func forward(ctx context.Context, topic string, in <-chan *message.Message, out chan<- delivery, lost chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				if ctx.Err() == nil {
					lost <- topic
				}
				return
			}
			select {
			case out <- delivery{topic: topic, msg: msg}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

// dispatch runs the middleware chain for one message and acknowledges it.
// Handler failures are isolated: they are logged once and the message is
// acked so the partition keeps moving. Only a shutdown that interrupts the
// handler leaves the message unacked.
func (c *ConsumerRuntime) dispatch(ctx context.Context, d delivery) {
	c.setState(StateDispatching)

	msg := d.msg
	msg.SetContext(ctx)
	if msg.Metadata.Get(metadatapkg.KeyTopic) == "" {
		msg.Metadata.Set(metadatapkg.KeyTopic, d.topic)
	}

	_, err := c.process(msg)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		msg.Nack()
		return
	}
	if err != nil {
		handlerErr := &errspkg.HandlerError{Topic: d.topic, Partition: metadatapkg.Partition(msg.Metadata), Err: err}
		c.logger.Error("Handler failed, skipping message", handlerErr, loggingpkg.LogFields{
			"topic":        d.topic,
			"message_uuid": msg.UUID,
		})
	}
	msg.Ack()
}

func (c *ConsumerRuntime) invoke(msg *message.Message) ([]*message.Message, error) {
	return nil, c.handler(msg.Context(), recordFromMessage(msg))
}

func recordFromMessage(msg *message.Message) Record {
	return Record{
		Topic:     msg.Metadata.Get(metadatapkg.KeyTopic),
		Partition: metadatapkg.Partition(msg.Metadata),
		Offset:    metadatapkg.Offset(msg.Metadata),
		Key:       msg.Metadata.Get(metadatapkg.KeyPartitionKey),
		Value:     msg.Payload,
		UUID:      msg.UUID,
		Metadata:  metadatapkg.FromWatermill(msg.Metadata),
	}
}

func (c *ConsumerRuntime) disconnect(sub message.Subscriber, cancel context.CancelFunc) {
	c.setState(StateDisconnecting)
	cancel()
	if err := sub.Close(); err != nil {
		c.logger.Error("Failed to close subscriber", err, nil)
	}
	c.logger.Info("Consumer disconnected", nil)
}

// Start runs the runtime in the background. Use Stop to end it.
func (c *ConsumerRuntime) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return errspkg.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done, c.runErr = cancel, done, nil

	go func() {
		err := c.Run(runCtx)
		if err != nil {
			c.logger.Error("Consumer stopped", err, nil)
		}
		c.mu.Lock()
		c.runErr = err
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		close(done)
	}()
	return nil
}

// Done is closed when a runtime started with Start has stopped. It is nil
// before Start.
func (c *ConsumerRuntime) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error the last background run ended with.
func (c *ConsumerRuntime) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Stop cancels a runtime started with Start and waits for it to release
// its subscription, or for ctx to expire. It is safe to call on a runtime
// that was never started.
func (c *ConsumerRuntime) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnConnected implements transport.ConnectionListener.
func (c *ConsumerRuntime) OnConnected(addr string) {
	c.logger.Debug("Broker connected", loggingpkg.LogFields{loggingpkg.FieldBroker: addr})
}

// OnDisconnected implements transport.ConnectionListener. Drivers recover
// single broker connections themselves; a failure they cannot recover from
// closes the subscription, which triggers a reconnect.
func (c *ConsumerRuntime) OnDisconnected(addr string, err error) {
	if err == nil {
		c.logger.Debug("Broker connection closed", loggingpkg.LogFields{loggingpkg.FieldBroker: addr})
		return
	}
	c.logger.Info("Broker connection lost", loggingpkg.LogFields{loggingpkg.FieldBroker: addr, "error": err.Error()})
}

func (c *ConsumerRuntime) setState(s ConsumerState) {
	prev := c.state.Swap(s)
	if prev == s {
		return
	}
	if prev.live() != s.live() {
		c.metrics.SetConnected(c.conf.Name, s.live())
	}
	if s != StateDispatching && prev != StateDispatching {
		c.logger.Debug("Consumer state changed", loggingpkg.Transition(prev, s))
	}
}
