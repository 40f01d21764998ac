package runtime

import "sync/atomic"

// ConnectionState is the publisher's view of its broker connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// ConsumerState is a step of the consumer lifecycle:
//
//	Idle -> Connecting -> Subscribed -> Polling <-> Dispatching
//	Polling/Dispatching -(failure)-> Reconnecting -> Connecting
//	Polling/Dispatching -(shutdown)-> Disconnecting -> Idle
type ConsumerState int32

const (
	StateIdle ConsumerState = iota
	StateConnecting
	StateSubscribed
	StatePolling
	StateDispatching
	StateReconnecting
	StateDisconnecting
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// live reports whether the runtime holds a broker connection.
func (s ConsumerState) live() bool {
	return s == StateSubscribed || s == StatePolling || s == StateDispatching
}

type stateValue[S ~int32] struct {
	v atomic.Int32
}

func (s *stateValue[S]) Load() S { return S(s.v.Load()) }

// Swap stores next and returns the previous state.
func (s *stateValue[S]) Swap(next S) S { return S(s.v.Swap(int32(next))) }
