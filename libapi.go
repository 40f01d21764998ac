package moviebus

import (
	runtimepkg "github.com/drblury/moviebus/internal/runtime"
	configpkg "github.com/drblury/moviebus/internal/runtime/config"
	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	eventspkg "github.com/drblury/moviebus/internal/runtime/events"
	familiespkg "github.com/drblury/moviebus/internal/runtime/families"
	idspkg "github.com/drblury/moviebus/internal/runtime/ids"
	jsoncodec "github.com/drblury/moviebus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
	"github.com/drblury/moviebus/transport"

	// Drivers register themselves with transport.DefaultRegistry.
	_ "github.com/drblury/moviebus/transport/channel"
	_ "github.com/drblury/moviebus/transport/franz"
	_ "github.com/drblury/moviebus/transport/kafka"
)

type (
	Config         = configpkg.Config
	Endpoint       = configpkg.Endpoint
	ConsumerConfig = configpkg.ConsumerConfig
	RetryPolicy    = configpkg.RetryPolicy

	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies
	BusStatus       = runtimepkg.BusStatus
	ConsumerStatus  = runtimepkg.ConsumerStatus
	PublisherStatus = runtimepkg.PublisherStatus
	Metrics         = runtimepkg.Metrics

	Producer  = runtimepkg.Producer
	Publisher = runtimepkg.Publisher

	ConsumerRuntime  = runtimepkg.ConsumerRuntime
	ConsumerRegistry = runtimepkg.ConsumerRegistry
	ConsumerOption   = runtimepkg.ConsumerOption
	ConsumerState    = runtimepkg.ConsumerState
	ConnectionState  = runtimepkg.ConnectionState
	Record           = runtimepkg.Record
	MessageHandler   = runtimepkg.MessageHandler

	EventHandler[PT any] = runtimepkg.EventHandler[PT]
	EventRouter[T any, PT interface {
		*T
		eventspkg.Event
	}] = runtimepkg.EventRouter[T, PT]

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	Event          = eventspkg.Event
	MovieEvent     = eventspkg.MovieEvent
	AnalyticsEvent = eventspkg.AnalyticsEvent

	MovieRouter       = familiespkg.MovieRouter
	AnalyticsRouter   = familiespkg.AnalyticsRouter
	MovieHandlers     = familiespkg.MovieHandlers
	AnalyticsHandlers = familiespkg.AnalyticsHandlers
	FamilyHandlers    = familiespkg.Handlers

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	ConnectionError       = errspkg.ConnectionError
	SubscriptionError     = errspkg.SubscriptionError
	SendFailure           = errspkg.SendFailure
	DecodeError           = errspkg.DecodeError
	HandlerError          = errspkg.HandlerError

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	ConnectionListener    = transport.ConnectionListener
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewBus              = runtimepkg.NewBus
	NewPublisher        = runtimepkg.NewPublisher
	NewConsumerRuntime  = runtimepkg.NewConsumerRuntime
	NewConsumerRegistry = runtimepkg.NewConsumerRegistry
	NewMetrics          = runtimepkg.NewMetrics

	WithLogger            = runtimepkg.WithLogger
	WithTransportRegistry = runtimepkg.WithTransportRegistry
	WithMetrics           = runtimepkg.WithMetrics
	WithJobHooks          = runtimepkg.WithJobHooks
	WithMiddlewares       = runtimepkg.WithMiddlewares

	// Job lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks
	SlowJobHooks  = runtimepkg.SlowJobHooks

	// Built-in topic families
	RegisterDefaultFamilies = familiespkg.RegisterDefaults
	NewMovieRouter          = familiespkg.NewMovieRouter
	NewAnalyticsRouter      = familiespkg.NewAnalyticsRouter

	NewMovieEvent        = eventspkg.NewMovieEvent
	NewAnalyticsEvent    = eventspkg.NewAnalyticsEvent
	MovieEventTypes      = eventspkg.MovieEventTypes
	AnalyticsEventTypes  = eventspkg.AnalyticsEventTypes
	IsMovieEventType     = eventspkg.IsMovieEventType
	IsAnalyticsEventType = eventspkg.IsAnalyticsEventType

	// Use RegisterTransport to plug in custom brokers; the bundled drivers
	// are registered on import of this package.
	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.Register

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrPublisherRequired      = errspkg.ErrPublisherRequired
	ErrTopicRequired          = errspkg.ErrTopicRequired
	ErrTopicsRequired         = errspkg.ErrTopicsRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired   = errspkg.ErrEventPayloadRequired
	ErrConsumerConfigRequired = errspkg.ErrConsumerConfigRequired
	ErrRouterRequired         = errspkg.ErrRouterRequired
	ErrUnknownEventType       = errspkg.ErrUnknownEventType
	ErrNotConnected           = errspkg.ErrNotConnected
	ErrClosed                 = errspkg.ErrClosed
	ErrRetriesExhausted       = errspkg.ErrRetriesExhausted
	ErrAlreadyRunning         = errspkg.ErrAlreadyRunning
	ErrUnknownTransport       = transport.ErrUnknownTransport
	IsConnectionError         = errspkg.IsConnectionError
	IsSubscriptionError       = errspkg.IsSubscriptionError

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	NewID        = idspkg.New
	NewSessionID = idspkg.NewSessionID
)

// Connection and consumer states.
const (
	Disconnected = runtimepkg.Disconnected
	Connecting   = runtimepkg.Connecting
	Connected    = runtimepkg.Connected

	StateIdle          = runtimepkg.StateIdle
	StateConnecting    = runtimepkg.StateConnecting
	StateSubscribed    = runtimepkg.StateSubscribed
	StatePolling       = runtimepkg.StatePolling
	StateDispatching   = runtimepkg.StateDispatching
	StateReconnecting  = runtimepkg.StateReconnecting
	StateDisconnecting = runtimepkg.StateDisconnecting
)

// Topics used by the built-in families and publisher helpers.
const (
	TopicMovieEvents        = configpkg.TopicMovieEvents
	TopicMovieViews         = configpkg.TopicMovieViews
	TopicAnalyticsEvents    = configpkg.TopicAnalyticsEvents
	TopicUserActions        = configpkg.TopicUserActions
	TopicNotificationEvents = configpkg.TopicNotificationEvents
)

// Built-in topic families.
const (
	FamilyMovie        = configpkg.FamilyMovie
	FamilyAnalytics    = configpkg.FamilyAnalytics
	FamilyNotification = configpkg.FamilyNotification
)

// Event types.
const (
	MovieView    = eventspkg.MovieView
	MovieLike    = eventspkg.MovieLike
	MovieComment = eventspkg.MovieComment
	MovieShare   = eventspkg.MovieShare

	AnalyticsPageView   = eventspkg.AnalyticsPageView
	AnalyticsUserAction = eventspkg.AnalyticsUserAction
	AnalyticsMovieView  = eventspkg.AnalyticsMovieView
	AnalyticsSearch     = eventspkg.AnalyticsSearch
)

// Metadata keys - use these constants for standard header fields.
const (
	MetadataKeyPartitionKey = metadatapkg.KeyPartitionKey
	MetadataKeyPartition    = metadatapkg.KeyPartition
	MetadataKeyOffset       = metadatapkg.KeyOffset
	MetadataKeyPublishedAt  = metadatapkg.KeyPublishedAt
	MetadataKeyContentType  = metadatapkg.KeyContentType
	MetadataKeyEventType    = metadatapkg.KeyEventType
)

// NewEventRouter creates a router over the declared event types of a
// custom family.
func NewEventRouter[T any, PT interface {
	*T
	eventspkg.Event
}](name string, declared []string, logger ServiceLogger, metrics *Metrics) *EventRouter[T, PT] {
	return runtimepkg.NewEventRouter[T, PT](name, declared, logger, metrics)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
