// Package moviebus is the message-broker client layer of the movie streaming
// platform. It sits on top of Watermill and gives services one shared
// Publisher per process, supervised consumer runtimes per topic family, and
// typed event routers over closed sets of JSON event types.
//
// Config is read once from the environment (LoadConfig). NewBus builds the
// composition root: Bus.Publisher always returns the same instance,
// Bus.NewConsumer registers a ConsumerRuntime, and Bus.Run connects
// everything and blocks until the context is cancelled. A minimal setup is
// therefore LoadConfig, NewBus, RegisterDefaultFamilies and Run; see
// examples/movies for a runnable composition root.
//
// # Transports
//
// The transport is selected by Config.PubSubSystem:
//   - kafka: Sarama through watermill-kafka, with consumer groups
//   - franz: franz-go client with the same record semantics
//   - channel: in-process Go channels for tests and local runs
//
// Custom brokers can be plugged in with RegisterTransport.
//
// # Failure handling
//
// Connection failures never stop the process: the publisher and every
// consumer reconnect on their RetryPolicy (5s fixed and unbounded by
// default). A handler error or panic is logged once and the record is
// committed, so one bad message never blocks a partition. A subscription
// rejected before a consumer's first successful subscription is fatal for
// that consumer and stops the registry.
//
// # Job Hooks
//
// JobHooks provide OnJobStart, OnJobDone, and OnJobError callbacks for
// custom logging, metrics collection, and alerting around handler execution.
package moviebus
