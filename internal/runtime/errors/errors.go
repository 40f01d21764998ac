package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrHandlerRequired        = sterrors.New("moviebus: handler function is required")
	ErrPublisherRequired      = sterrors.New("moviebus: publisher is required")
	ErrTopicRequired          = sterrors.New("moviebus: topic is required")
	ErrTopicsRequired         = sterrors.New("moviebus: at least one topic is required")
	ErrConfigRequired         = sterrors.New("moviebus: configuration is required")
	ErrLoggerRequired         = sterrors.New("moviebus: logger is required")
	ErrEventPayloadRequired   = sterrors.New("moviebus: event payload is required")
	ErrConsumerConfigRequired = sterrors.New("moviebus: consumer client id and group id are required")
	ErrRouterRequired         = sterrors.New("moviebus: event router is required")
	ErrUnknownEventType       = sterrors.New("moviebus: event type is not declared")

	// ErrNotConnected is returned by publish calls made before the first
	// successful connection.
	ErrNotConnected = sterrors.New("moviebus: not connected")
	// ErrClosed is returned by components used after Close or Stop.
	ErrClosed = sterrors.New("moviebus: component is closed")
	// ErrRetriesExhausted is returned when a reconnect loop hits its attempt ceiling.
	ErrRetriesExhausted = sterrors.New("moviebus: reconnect attempts exhausted")
	// ErrAlreadyRunning is returned when a runtime is started twice.
	ErrAlreadyRunning = sterrors.New("moviebus: already running")
)

// ConfigValidationError wraps errors reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "moviebus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ConnectionError is a transport-level failure. It is retried with backoff
// and never stops the process on its own.
type ConnectionError struct {
	Component string
	Brokers   []string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("moviebus: %s connection to %v failed: %v", e.Component, e.Brokers, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError is fatal when it happens before the first successful
// subscription of a consumer.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("moviebus: subscribe to topic %q failed: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// SendFailure reports a rejected or timed out send. Messages is the number
// of records the caller asked to send; some of them may have been delivered.
type SendFailure struct {
	Topic    string
	Messages int
	Err      error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("moviebus: send of %d message(s) to topic %q failed: %v", e.Messages, e.Topic, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// DecodeError marks a malformed payload. It is logged and dropped.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("moviebus: decode %d byte payload: %v", len(e.Payload), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError is a failure raised by a message handler, including recovered panics.
type HandlerError struct {
	Topic     string
	Partition int32
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("moviebus: handler failed for %s[%d]: %v", e.Topic, e.Partition, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is, or wraps, a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return sterrors.As(err, &target)
}

// IsSubscriptionError reports whether err is, or wraps, a SubscriptionError.
func IsSubscriptionError(err error) bool {
	var target *SubscriptionError
	return sterrors.As(err, &target)
}
