package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	"github.com/drblury/moviebus/internal/runtime/events"
	jsoncodec "github.com/drblury/moviebus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
)

// EventHandler handles one decoded event.
type EventHandler[PT any] func(ctx context.Context, ev PT) error

// EventRouter decodes JSON records into *T and dispatches them by event
// type over a closed set of declared types. Malformed records and
// undeclared types are logged and dropped; only handler errors propagate.
type EventRouter[T any, PT interface {
	*T
	events.Event
}] struct {
	name     string
	declared []string
	logger   loggingpkg.ServiceLogger
	metrics  *Metrics

	mu       sync.RWMutex
	handlers map[string]EventHandler[PT]
}

// NewEventRouter creates a router for the declared event types.
func NewEventRouter[T any, PT interface {
	*T
	events.Event
}](name string, declared []string, logger loggingpkg.ServiceLogger, metrics *Metrics) *EventRouter[T, PT] {
	return &EventRouter[T, PT]{
		name:     name,
		declared: slices.Clone(declared),
		logger:   loggingpkg.ForComponent(logger, "router", loggingpkg.LogFields{"router": name}),
		metrics:  metrics,
		handlers: make(map[string]EventHandler[PT], len(declared)),
	}
}

// Name returns the router's family name.
func (r *EventRouter[T, PT]) Name() string { return r.name }

// Declared returns the closed set of event types the router accepts.
func (r *EventRouter[T, PT]) Declared() []string { return slices.Clone(r.declared) }

// Handle sets the handler for eventType, replacing any previous one.
func (r *EventRouter[T, PT]) Handle(eventType string, fn EventHandler[PT]) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	if !slices.Contains(r.declared, eventType) {
		return fmt.Errorf("%w: %q in router %s", errspkg.ErrUnknownEventType, eventType, r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = fn
	return nil
}

// Validate reports every declared type that has no handler.
func (r *EventRouter[T, PT]) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, t := range r.declared {
		if _, ok := r.handlers[t]; !ok {
			errs = append(errs, fmt.Errorf("router %s: no handler for event type %q", r.name, t))
		}
	}
	return errors.Join(errs...)
}

// Decode parses raw into an event. It never panics: malformed input,
// non-object JSON and a missing eventType are returned as
// *errors.DecodeError with a nil event.
func (r *EventRouter[T, PT]) Decode(raw []byte) (ev PT, err error) {
	defer func() {
		if p := recover(); p != nil {
			ev, err = nil, &errspkg.DecodeError{Payload: raw, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out := PT(new(T))
	if err := jsoncodec.UnmarshalObject(raw, out); err != nil {
		return nil, &errspkg.DecodeError{Payload: raw, Err: err}
	}
	if out.Type() == "" {
		return nil, &errspkg.DecodeError{Payload: raw, Err: errors.New("missing eventType")}
	}
	return out, nil
}

// Dispatch invokes the handler for ev's type. Unknown types are logged,
// counted and dropped with a nil error.
func (r *EventRouter[T, PT]) Dispatch(ctx context.Context, ev PT) error {
	if ev == nil {
		return nil
	}
	eventType := ev.Type()

	r.mu.RLock()
	fn, ok := r.handlers[eventType]
	r.mu.RUnlock()

	if !ok {
		r.metrics.UnknownEvent(r.name, eventType)
		r.logger.Info("Unknown event type, dropping", loggingpkg.LogFields{"event_type": eventType})
		return nil
	}
	return fn(ctx, ev)
}

// HandleRecord decodes and dispatches one record. It is the
// MessageHandler for a consumer runtime of this router's family.
func (r *EventRouter[T, PT]) HandleRecord(ctx context.Context, rec Record) error {
	ev, err := r.Decode(rec.Value)
	if err != nil {
		r.metrics.DecodeFailed(r.name, rec.Topic)
		r.logger.Error("Dropping malformed message", err, loggingpkg.LogFields{
			"topic":        rec.Topic,
			"partition":    rec.Partition,
			"message_uuid": rec.UUID,
		})
		return nil
	}
	return r.Dispatch(ctx, ev)
}
