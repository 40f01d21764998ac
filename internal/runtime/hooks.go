package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/moviebus/internal/runtime/metadata"
)

// JobContext describes one record dispatch to hooks.
type JobContext struct {
	Consumer  string
	Topic     string
	Partition int32 // -1 when the transport has no partitions
	Offset    int64 // -1 when the transport has no offsets
	Key       string
	// EventType is the publisher's event_type header; empty for raw payloads.
	EventType   string
	MessageUUID string
	Context     context.Context
	StartedAt   time.Time
	// Duration is set for OnJobDone and OnJobError only.
	Duration time.Duration
}

func newJobContext(consumer string, msg *message.Message) JobContext {
	return JobContext{
		Consumer:    consumer,
		Topic:       msg.Metadata.Get(metadatapkg.KeyTopic),
		Partition:   metadatapkg.Partition(msg.Metadata),
		Offset:      metadatapkg.Offset(msg.Metadata),
		Key:         msg.Metadata.Get(metadatapkg.KeyPartitionKey),
		EventType:   msg.Metadata.Get(metadatapkg.KeyEventType),
		MessageUUID: msg.UUID,
		Context:     msg.Context(),
		StartedAt:   time.Now(),
	}
}

func (j JobContext) fields() loggingpkg.LogFields {
	return loggingpkg.LogFields{
		loggingpkg.FieldConsumer:  j.Consumer,
		loggingpkg.FieldTopic:     j.Topic,
		loggingpkg.FieldPartition: j.Partition,
		"offset":                  j.Offset,
		"event_type":              j.EventType,
		"message_uuid":            j.MessageUUID,
	}
}

// JobHooks are optional callbacks around every handler invocation. They wrap
// the panic recoverer, so OnJobError also sees recovered panics.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks that run h first, then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	merged := JobHooks{
		OnJobStart: h.OnJobStart,
		OnJobDone:  h.OnJobDone,
		OnJobError: h.OnJobError,
	}
	if a, b := h.OnJobStart, other.OnJobStart; b != nil {
		merged.OnJobStart = b
		if a != nil {
			merged.OnJobStart = func(ctx JobContext) { a(ctx); b(ctx) }
		}
	}
	if a, b := h.OnJobDone, other.OnJobDone; b != nil {
		merged.OnJobDone = b
		if a != nil {
			merged.OnJobDone = func(ctx JobContext) { a(ctx); b(ctx) }
		}
	}
	if a, b := h.OnJobError, other.OnJobError; b != nil {
		merged.OnJobError = b
		if a != nil {
			merged.OnJobError = func(ctx JobContext, err error) { a(ctx, err); b(ctx, err) }
		}
	}
	return merged
}

func (h JobHooks) empty() bool {
	return h.OnJobStart == nil && h.OnJobDone == nil && h.OnJobError == nil
}

func (h JobHooks) finish(ctx JobContext, err error) {
	switch {
	case err != nil && h.OnJobError != nil:
		h.OnJobError(ctx, err)
	case err == nil && h.OnJobDone != nil:
		h.OnJobDone(ctx)
	}
}

func jobHooksMiddleware(consumer string, hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			job := newJobContext(consumer, msg)
			if hooks.OnJobStart != nil {
				hooks.OnJobStart(job)
			}

			msgs, err := h(msg)
			job.Duration = time.Since(job.StartedAt)
			hooks.finish(job, err)
			return msgs, err
		}
	}
}

// LoggingHooks trace every dispatch at debug level. Failures are not logged
// here; the consumer runtime already logs each failed record once.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	logger = loggingpkg.ForComponent(logger, "jobs", nil)
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", ctx.fields())
		},
		OnJobDone: func(ctx JobContext) {
			fields := ctx.fields()
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Job completed", fields)
		},
	}
}

// SlowJobHooks log dispatches, successful or not, that took longer than
// threshold.
func SlowJobHooks(logger loggingpkg.ServiceLogger, threshold time.Duration) JobHooks {
	logger = loggingpkg.ForComponent(logger, "jobs", nil)
	report := func(ctx JobContext) {
		if ctx.Duration <= threshold {
			return
		}
		fields := ctx.fields()
		fields["duration_ms"] = ctx.Duration.Milliseconds()
		fields["threshold_ms"] = threshold.Milliseconds()
		logger.Info("Slow handler", fields)
	}
	return JobHooks{
		OnJobDone:  report,
		OnJobError: func(ctx JobContext, _ error) { report(ctx) },
	}
}

// MetricsHooks report dispatch outcomes per consumer and event type to
// caller-supplied recorders. Nil recorders are skipped.
func MetricsHooks(onStart, onDone, onError func(consumer, eventType string)) JobHooks {
	call := func(fn func(string, string), ctx JobContext) {
		if fn != nil {
			fn(ctx.Consumer, ctx.EventType)
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) { call(onStart, ctx) },
		OnJobDone:  func(ctx JobContext) { call(onDone, ctx) },
		OnJobError: func(ctx JobContext, _ error) { call(onError, ctx) },
	}
}

// AlertingHooks call alertFunc for every failed dispatch.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alertFunc}
}
