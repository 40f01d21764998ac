package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	"github.com/drblury/moviebus/transport"
)

const readHeaderTimeout = 5 * time.Second

// BusDependencies holds the optional collaborators of a Bus. Leave fields
// nil to use the defaults.
type BusDependencies struct {
	// TransportRegistry defaults to transport.DefaultRegistry.
	TransportRegistry *transport.Registry
	// Registerer receives the metrics collectors. Defaults to the
	// Prometheus default registerer.
	Registerer prometheus.Registerer
	// JobHooks are installed on every consumer runtime.
	JobHooks JobHooks
	// Middlewares are appended to every consumer runtime's chain.
	Middlewares []message.HandlerMiddleware
}

// Bus is the composition root: it owns the process's one Publisher, the
// consumer registry and the metrics listener.
type Bus struct {
	Conf   configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry  *transport.Registry
	metrics   *Metrics
	deps      BusDependencies
	consumers *ConsumerRegistry

	publisherOnce sync.Once
	publisher     *Publisher

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server
}

// NewBus validates conf and builds the shared components. Nothing connects
// until Start.
func NewBus(conf configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) (*Bus, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	registry := deps.TransportRegistry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	if !registry.Has(conf.PubSubSystem) {
		return nil, errspkg.NewConfigValidationError(
			fmt.Errorf("%w %q (registered: %v)", transport.ErrUnknownTransport, conf.PubSubSystem, registry.Names()))
	}

	metrics := NewMetrics(deps.Registerer)
	if err := metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	log.Info("Creating message bus", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"capabilities":  registry.GetCapabilities(conf.PubSubSystem),
		"config":        conf.String(),
	})

	return &Bus{
		Conf:      conf,
		Logger:    log,
		registry:  registry,
		metrics:   metrics,
		deps:      deps,
		consumers: NewConsumerRegistry(log),
	}, nil
}

// Publisher returns the bus's publisher. Every call returns the same
// instance, so the process holds a single producer connection.
func (b *Bus) Publisher() *Publisher {
	b.publisherOnce.Do(func() {
		b.publisher = NewPublisher(b.Conf.ProducerEndpoint(), b.Logger, b.registry, b.metrics)
	})
	return b.publisher
}

// Metrics returns the shared collectors.
func (b *Bus) Metrics() *Metrics { return b.metrics }

// Consumers returns the consumer registry.
func (b *Bus) Consumers() *ConsumerRegistry { return b.consumers }

// NewConsumer builds a runtime for cc that shares the bus's transport,
// logger and metrics, and registers it.
func (b *Bus) NewConsumer(cc configpkg.ConsumerConfig, handler MessageHandler) (*ConsumerRuntime, error) {
	rt, err := NewConsumerRuntime(cc, handler,
		WithLogger(b.Logger),
		WithTransportRegistry(b.registry),
		WithMetrics(b.metrics),
		WithJobHooks(b.deps.JobHooks),
		WithMiddlewares(b.deps.Middlewares...),
	)
	if err != nil {
		return nil, err
	}
	if err := b.consumers.Register(rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// Start serves metrics when enabled, connects the publisher and starts
// every registered consumer in the background.
func (b *Bus) Start(ctx context.Context) error {
	if b.Conf.MetricsEnabled && b.Conf.MetricsPort > 0 {
		b.RegisterHTTPHandler(b.Conf.MetricsPort, "/metrics", b.metrics.Handler())
		b.RegisterHTTPHandler(b.Conf.MetricsPort, "/consumers", b.metrics.Instrument(http.HandlerFunc(b.handleGetConsumers)))
	}
	if err := b.startHTTPServers(); err != nil {
		return err
	}
	if err := b.Publisher().Connect(ctx); err != nil {
		return err
	}
	return b.consumers.Start(ctx)
}

// Run starts the bus and blocks until ctx is cancelled or a consumer stops
// on a fatal error.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-b.consumers.Done():
		if err := b.consumers.Err(); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

// Close stops the consumers, then the publisher, then the HTTP listeners.
func (b *Bus) Close(ctx context.Context) error {
	var errs []error
	if err := b.consumers.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop consumers: %w", err))
	}
	if err := b.Publisher().Close(); err != nil {
		errs = append(errs, err)
	}

	b.httpServersMu.Lock()
	servers := b.servers
	b.servers = nil
	b.httpServersMu.Unlock()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterHTTPHandler mounts handler on the listener for port. Listeners
// start with the bus.
func (b *Bus) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpServers == nil {
		b.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := b.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// startHTTPServers binds every registered port before serving any of them,
// so a port that is taken leaves no listener behind.
func (b *Bus) startHTTPServers() error {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	muxes := b.httpServers
	b.httpServers = nil

	listeners := make(map[int]net.Listener, len(muxes))
	for port := range muxes {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, bound := range listeners {
				_ = bound.Close()
			}
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		listeners[port] = ln
	}

	for port, ln := range listeners {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{Addr: addr, Handler: muxes[port], ReadHeaderTimeout: readHeaderTimeout}
		b.servers = append(b.servers, srv)

		b.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	return nil
}
