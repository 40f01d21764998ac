// Package franz provides a Kafka driver for moviebus built on franz-go.
// Unlike the Sarama driver it reports broker connects and disconnects to
// the configured ConnectionListener.
package franz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/drblury/moviebus/internal/runtime/metadata"
	"github.com/drblury/moviebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "franz"

const (
	defaultDialTimeout = 5 * time.Second
	nackResendSleep    = 100 * time.Millisecond
	closeCommitTimeout = 5 * time.Second
)

// ErrClosed is returned by a publisher or subscriber used after Close.
var ErrClosed = errors.New("franz: closed")

// Client is the part of *kgo.Client the driver relies on.
type Client interface {
	Ping(ctx context.Context) error
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts ...kgo.Opt) (Client, error) {
	return kgo.NewClient(opts...)
}

func init() {
	Register()
}

// Register adds the driver to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, transport.Builder{
		NewPublisher:  BuildPublisher,
		NewSubscriber: BuildSubscriber,
	}, transport.FranzCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.FranzCapabilities
}

// BuildPublisher opens a producer client and pings the cluster.
func BuildPublisher(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	client, err := connect(ctx, cfg, commonOpts(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("franz publisher: %w", err)
	}
	return &Publisher{client: client}, nil
}

// BuildSubscriber opens a consumer group client for all configured topics
// and pings the cluster.
func BuildSubscriber(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	topics := cfg.GetTopics()
	if len(topics) == 0 {
		return nil, errors.New("franz subscriber: at least one topic is required")
	}

	reset := kgo.NewOffset().AtEnd()
	if cfg.GetFromBeginning() {
		reset = kgo.NewOffset().AtStart()
	}
	opts := append(commonOpts(cfg, logger),
		kgo.ConsumerGroup(cfg.GetKafkaConsumerGroup()),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.AutoCommitMarks(),
	)
	if wait := cfg.GetPollTimeout(); wait > 0 {
		opts = append(opts, kgo.FetchMaxWait(wait))
	}

	client, err := connect(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("franz subscriber: %w", err)
	}
	return newSubscriber(client, topics, logger), nil
}

func commonOpts(cfg transport.Config, logger watermill.LoggerAdapter) []kgo.Opt {
	timeout := cfg.GetConnectionTimeout()
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.GetKafkaBrokers()...),
		kgo.DialTimeout(timeout),
		kgo.WithLogger(kgoLogger{logger: logger}),
	}
	if id := cfg.GetKafkaClientID(); id != "" {
		opts = append(opts, kgo.ClientID(id))
	}
	if l := transport.ListenerFor(cfg); l != nil {
		opts = append(opts, kgo.WithHooks(connectionHooks{listener: l}))
	}
	return opts
}

func connect(ctx context.Context, cfg transport.Config, opts []kgo.Opt) (Client, error) {
	client, err := ClientFactory(opts...)
	if err != nil {
		return nil, err
	}

	timeout := cfg.GetConnectionTimeout()
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Publisher produces watermill messages as Kafka records.
type Publisher struct {
	client Client
	mu     sync.RWMutex
	closed bool
}

// Publish sends all messages in one synchronous produce call.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if len(messages) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(messages))
	for _, msg := range messages {
		records = append(records, toRecord(topic, msg))
	}
	return p.client.ProduceSync(messages[0].Context(), records...).FirstErr()
}

// Close flushes nothing: ProduceSync has already waited for every record.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Close()
	return nil
}

func toRecord(topic string, msg *message.Message) *kgo.Record {
	rec := &kgo.Record{
		Topic:   topic,
		Value:   msg.Payload,
		Headers: make([]kgo.RecordHeader, 0, len(msg.Metadata)+1),
	}
	rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: kafka.UUIDHeaderKey, Value: []byte(msg.UUID)})
	for k, v := range msg.Metadata {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if key := msg.Metadata.Get(metadata.KeyPartitionKey); key != "" {
		rec.Key = []byte(key)
	}
	return rec
}

func toMessage(rec *kgo.Record) *message.Message {
	uuid := ""
	md := make(message.Metadata, len(rec.Headers)+3)
	for _, h := range rec.Headers {
		if h.Key == kafka.UUIDHeaderKey {
			uuid = string(h.Value)
			continue
		}
		md.Set(h.Key, string(h.Value))
	}
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	if len(rec.Key) > 0 && md.Get(metadata.KeyPartitionKey) == "" {
		md.Set(metadata.KeyPartitionKey, string(rec.Key))
	}
	md.Set(metadata.KeyTopic, rec.Topic)
	metadata.SetPartition(md, rec.Partition, rec.Offset)

	msg := message.NewMessage(uuid, rec.Value)
	msg.Metadata = md
	return msg
}

// Subscriber fans records of one consumer group client out to a channel
// per topic. Polling starts once every configured topic is subscribed.
// A record is marked for commit only after its message is acked.
type Subscriber struct {
	client Client
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	topics  map[string]struct{}
	outputs map[string]chan *message.Message
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func newSubscriber(client Client, topics []string, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return &Subscriber{
		client:  client,
		logger:  logger,
		topics:  set,
		outputs: make(map[string]chan *message.Message, len(topics)),
	}
}

// Subscribe returns the channel for topic. The topic must be one of the
// topics the client was built with.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.topics[topic]; !ok {
		return nil, fmt.Errorf("franz: topic %q is not consumed by this client", topic)
	}
	if _, dup := s.outputs[topic]; dup {
		return nil, fmt.Errorf("franz: topic %q already subscribed", topic)
	}

	out := make(chan *message.Message)
	s.outputs[topic] = out

	if len(s.outputs) == len(s.topics) && !s.started {
		s.started = true
		pollCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go s.poll(pollCtx)
	}
	return out, nil
}

func (s *Subscriber) poll(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeOutputs()

	for ctx.Err() == nil {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				s.logger.Error("Fetch failed", fe.Err, watermill.LogFields{
					"topic":     fe.Topic,
					"partition": fe.Partition,
				})
			}
			// closing the outputs tells the consumer to reconnect
			return
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			if !s.deliver(ctx, iter.Next()) {
				return
			}
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, rec *kgo.Record) bool {
	out, ok := s.outputs[rec.Topic]
	if !ok {
		return true
	}

	for {
		msg := toMessage(rec)
		msgCtx, cancel := context.WithCancel(ctx)
		msg.SetContext(msgCtx)

		select {
		case out <- msg:
		case <-ctx.Done():
			cancel()
			return false
		}

		select {
		case <-msg.Acked():
			cancel()
			s.client.MarkCommitRecords(rec)
			return true
		case <-msg.Nacked():
			cancel()
			select {
			case <-time.After(nackResendSleep):
			case <-ctx.Done():
				return false
			}
		case <-ctx.Done():
			cancel()
			return false
		}
	}
}

func (s *Subscriber) closeOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, out := range s.outputs {
		close(out)
		delete(s.outputs, topic)
	}
}

// Close stops polling, commits the offsets of acked records and closes the
// client.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if !started {
		s.closeOutputs()
	}

	ctx, cancelCommit := context.WithTimeout(context.Background(), closeCommitTimeout)
	defer cancelCommit()
	err := s.client.CommitMarkedOffsets(ctx)
	s.client.Close()
	return err
}

type connectionHooks struct {
	listener transport.ConnectionListener
}

func (h connectionHooks) OnBrokerConnect(meta kgo.BrokerMetadata, _ time.Duration, _ net.Conn, err error) {
	if err != nil {
		h.listener.OnDisconnected(brokerAddr(meta), err)
		return
	}
	h.listener.OnConnected(brokerAddr(meta))
}

func (h connectionHooks) OnBrokerDisconnect(meta kgo.BrokerMetadata, _ net.Conn) {
	h.listener.OnDisconnected(brokerAddr(meta), nil)
}

func brokerAddr(meta kgo.BrokerMetadata) string {
	return net.JoinHostPort(meta.Host, strconv.Itoa(int(meta.Port)))
}

// kgoLogger forwards franz-go client logs to the watermill logger.
type kgoLogger struct {
	logger watermill.LoggerAdapter
}

func (l kgoLogger) Level() kgo.LogLevel {
	if l.logger == nil {
		return kgo.LogLevelNone
	}
	return kgo.LogLevelWarn
}

func (l kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make(watermill.LogFields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	switch level {
	case kgo.LogLevelError:
		l.logger.Error(msg, nil, fields)
	case kgo.LogLevelWarn, kgo.LogLevelInfo:
		l.logger.Info(msg, fields)
	default:
		l.logger.Debug(msg, fields)
	}
}
