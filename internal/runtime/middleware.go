package runtime

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/moviebus/internal/runtime/ids"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
)

const (
	metadataKeyCorrelationID = "correlation_id"
	tracerName               = "github.com/drblury/moviebus"
)

// buildChain wraps h with mws so that mws[0] is the outermost middleware.
func buildChain(h message.HandlerFunc, mws ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// defaultMiddlewares is the chain every consumer runtime dispatches
// through. The recoverer is innermost so panics become handler errors that
// the outer layers observe.
func (c *ConsumerRuntime) defaultMiddlewares() []message.HandlerMiddleware {
	mws := []message.HandlerMiddleware{
		correlationIDMiddleware(),
		logMessagesMiddleware(c.logger),
		tracerMiddleware(c.conf.Name),
		metricsMiddleware(c.conf.Name, c.metrics),
	}
	if !c.hooks.empty() {
		mws = append(mws, jobHooksMiddleware(c.conf.Name, c.hooks))
	}
	mws = append(mws, c.middlewares...)
	return append(mws, middleware.Recoverer)
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[metadataKeyCorrelationID]; !ok {
				msg.Metadata[metadataKeyCorrelationID] = idspkg.New()
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			fields := loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			}
			if at, ok := metadatapkg.PublishedAt(msg.Metadata); ok {
				fields["lag_ms"] = time.Since(at).Milliseconds()
			}
			logger.Debug("Processing message", fields)
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware(consumer string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer(tracerName)
			ctx, span := tracer.Start(msg.Context(), "ProcessMessage")
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("messaging.consumer", consumer),
				attribute.String("messaging.destination", msg.Metadata.Get(metadatapkg.KeyTopic)),
				attribute.Int("messaging.partition", int(metadatapkg.Partition(msg.Metadata))),
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// metricsMiddleware observes consumed_total and processing_seconds.
func metricsMiddleware(consumer string, metrics *Metrics) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)
			topic := msg.Metadata.Get(metadatapkg.KeyTopic)
			metrics.Consumed(consumer, topic, time.Since(start))
			if err != nil {
				metrics.HandlerFailed(consumer, topic)
			}
			return msgs, err
		}
	}
}
