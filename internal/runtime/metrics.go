package runtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "moviebus"

// Metrics holds the Prometheus collectors shared by the publisher, the
// consumer runtimes and the event routers. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	published         *prometheus.CounterVec
	publishFailures   *prometheus.CounterVec
	consumed          *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
	unknownEvents     *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	processingSeconds *prometheus.HistogramVec

	movieViews   *prometheus.CounterVec
	domainEvents *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates the collectors. They are registered on registerer by
// Register; a nil registerer means the Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	return &Metrics{
		registerer:      registerer,
		gatherer:        gatherer,
		published:       newCounterVec("published_total", "Messages accepted by the broker", "topic"),
		publishFailures: newCounterVec("publish_failures_total", "Messages the broker did not accept", "topic"),
		consumed:        newCounterVec("consumed_total", "Records dispatched by a consumer", "consumer", "topic"),
		decodeErrors:    newCounterVec("decode_errors_total", "Malformed records dropped by an event router", "router", "topic"),
		handlerErrors:   newCounterVec("handler_errors_total", "Records whose handler failed or panicked", "consumer", "topic"),
		unknownEvents:   newCounterVec("unknown_events_total", "Events with an undeclared type", "router", "event_type"),
		reconnects:      newCounterVec("reconnects_total", "Scheduled reconnect attempts", "component"),
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connection_state",
				Help:      "1 while the component holds a broker connection, 0 otherwise",
			},
			[]string{"component"},
		),
		processingSeconds: newHistogramVec("processing_seconds", "Time spent dispatching one record", prometheus.DefBuckets, "consumer", "topic"),
		movieViews:        newCounterVec("movie_views_total", "Views per movie", "movie_id"),
		domainEvents:      newCounterVec("domain_events_total", "Dispatched domain events", "family", "event_type"),
		httpRequests:      newCounterVec("http_requests_total", "Requests served by the metrics listener", "code", "method"),
		httpDuration:      newHistogramVec("http_response_time_seconds", "Response time of the metrics listener", prometheus.DefBuckets, "code", "method"),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.published,
		m.publishFailures,
		m.consumed,
		m.decodeErrors,
		m.handlerErrors,
		m.unknownEvents,
		m.reconnects,
		m.connectionState,
		m.processingSeconds,
		m.movieViews,
		m.domainEvents,
		m.httpRequests,
		m.httpDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Handler serves the text exposition format, instrumented with the
// http_requests_total and http_response_time_seconds collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return m.Instrument(h)
}

// Instrument wraps h with request counting and timing.
func (m *Metrics) Instrument(h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	return promhttp.InstrumentHandlerDuration(m.httpDuration,
		promhttp.InstrumentHandlerCounter(m.httpRequests, h))
}

func (m *Metrics) Published(topic string, n int) {
	if m != nil {
		m.published.WithLabelValues(topic).Add(float64(n))
	}
}

func (m *Metrics) PublishFailed(topic string, n int) {
	if m != nil {
		m.publishFailures.WithLabelValues(topic).Add(float64(n))
	}
}

// Consumed records one dispatched record and how long it took.
func (m *Metrics) Consumed(consumer, topic string, took time.Duration) {
	if m != nil {
		m.consumed.WithLabelValues(consumer, topic).Inc()
		m.processingSeconds.WithLabelValues(consumer, topic).Observe(took.Seconds())
	}
}

func (m *Metrics) DecodeFailed(router, topic string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(router, topic).Inc()
	}
}

func (m *Metrics) HandlerFailed(consumer, topic string) {
	if m != nil {
		m.handlerErrors.WithLabelValues(consumer, topic).Inc()
	}
}

func (m *Metrics) UnknownEvent(router, eventType string) {
	if m != nil {
		m.unknownEvents.WithLabelValues(router, eventType).Inc()
	}
}

func (m *Metrics) ReconnectScheduled(component string) {
	if m != nil {
		m.reconnects.WithLabelValues(component).Inc()
	}
}

func (m *Metrics) SetConnected(component string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connectionState.WithLabelValues(component).Set(v)
}

func (m *Metrics) MovieViewed(movieID string) {
	if m != nil {
		m.movieViews.WithLabelValues(movieID).Inc()
	}
}

func (m *Metrics) DomainEvent(family, eventType string) {
	if m != nil {
		m.domainEvents.WithLabelValues(family, eventType).Inc()
	}
}
