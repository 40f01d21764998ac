/*
Package runtime provides the broker client infrastructure for moviebus.

# Architecture Overview

The runtime package implements the producer and consumer sides of the
movie platform's event bus on top of Watermill. Transports are resolved
through the transport registry, so the same runtime drives Kafka (Sarama
or franz-go) and the in-process channel driver.

# Package Structure

## Bus (bus.go, status.go)

The Bus is the composition root. It owns:
  - The process's single Publisher
  - The ConsumerRegistry
  - Shared Metrics and logger
  - HTTP listeners for /metrics and /consumers

## Publisher (publisher.go)

Publisher connects once, retries failed connects in the background and
encodes payloads as JSON with partition key, content type and publish time
headers. Helpers cover view, movie and analytics events.

## Consumer runtime (consumer.go, consumer_registry.go)

ConsumerRuntime runs the state machine:

	Idle -> Connecting -> Subscribed -> Polling <-> Dispatching
	Polling/Dispatching -(failure)-> Reconnecting -> Connecting
	Polling/Dispatching -(shutdown)-> Disconnecting -> Idle

Each record runs through the middleware chain and the handler. Handler
failures are logged and the record is committed. ConsumerRegistry runs
several runtimes under one errgroup.

## Event routing (router.go)

EventRouter decodes JSON records and dispatches them by eventType over a
closed set of declared types.

## Middleware and hooks (middleware.go, hooks.go)

  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus processing histogram
  - Recoverer: Panic recovery
  - JobHooks: OnJobStart, OnJobDone and OnJobError callbacks

# Sub-packages

  - config/: Configuration loading and validation
  - errors/: Sentinel errors and error types
  - events/: Movie and analytics event envelopes
  - families/: Built-in routers and their consumer registration
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message header utilities

# Usage Example

	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	bus, err := runtime.NewBus(cfg, logger, runtime.BusDependencies{})
	if err != nil {
		return err
	}

	if _, err := families.RegisterDefaults(bus, families.Handlers{}); err != nil {
		return err
	}

	return bus.Run(ctx)
*/
package runtime
