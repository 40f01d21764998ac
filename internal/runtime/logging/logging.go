// Package logging defines the logger shared by the publisher, the consumer
// runtimes and the transports, and the field names their lines carry.
package logging

import (
	"fmt"
	"maps"
	"time"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract shared by the publisher, the consumer
// runtimes and the transports. It maps directly onto Watermill's logging
// needs so applications can adapt their existing loggers without depending
// on slog.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Field names used on connection, state and retry lines.
const (
	FieldComponent = "component"
	FieldClientID  = "client_id"
	FieldGroupID   = "group_id"
	FieldConsumer  = "consumer"
	FieldState     = "state"
	FieldAttempt   = "attempt"
	FieldDelay     = "delay"
	FieldTopic     = "topic"
	FieldPartition = "partition"
	FieldBroker    = "broker"
)

// Merge returns a new map holding the entries of every argument. Later maps
// win on duplicate keys. It returns nil when there is nothing to merge.
func Merge(fields ...LogFields) LogFields {
	var out LogFields
	for _, f := range fields {
		if len(f) == 0 {
			continue
		}
		if out == nil {
			out = make(LogFields, len(f))
		}
		maps.Copy(out, f)
	}
	return out
}

// ForComponent scopes log to a named component. A nil log becomes a no-op
// logger so optional loggers need no checks at call sites.
func ForComponent(log ServiceLogger, component string, fields LogFields) ServiceLogger {
	if log == nil {
		log = NewNopServiceLogger()
	}
	return log.With(Merge(LogFields{FieldComponent: component}, fields))
}

// ForClient scopes log to one broker client. Empty ids are left out, as the
// group id is for the producer.
func ForClient(log ServiceLogger, component, clientID, groupID string, fields LogFields) ServiceLogger {
	ids := LogFields{}
	if clientID != "" {
		ids[FieldClientID] = clientID
	}
	if groupID != "" {
		ids[FieldGroupID] = groupID
	}
	return ForComponent(log, component, Merge(ids, fields))
}

// Retry returns the fields of a reconnect line.
func Retry(attempt int, delay time.Duration) LogFields {
	return LogFields{FieldAttempt: attempt, FieldDelay: delay.String()}
}

// Transition returns the fields of a state change line.
func Transition(from, to fmt.Stringer) LogFields {
	return LogFields{"from": from.String(), FieldState: to.String()}
}
