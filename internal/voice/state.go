package voice

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
)

// Event drives state transitions.
type Event string

const (
	EventConnect      Event = "connect"
	EventSocketOpen   Event = "socket_open"
	EventConnected    Event = "connected"
	EventSocketError  Event = "socket_error"
	EventSocketClosed Event = "socket_closed"
	EventFailure      Event = "failure"
	EventDeviceError  Event = "device_error"
	EventDisconnect   Event = "disconnect"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventConnect: StateConnecting,
	},
	StateConnecting: {
		EventSocketOpen:   StateConnecting,
		EventConnected:    StateStreaming,
		EventSocketError:  StateIdle,
		EventSocketClosed: StateIdle,
		EventFailure:      StateIdle,
		EventDeviceError:  StateIdle,
		EventDisconnect:   StateIdle,
	},
	StateStreaming: {
		EventSocketError:  StateIdle,
		EventSocketClosed: StateIdle,
		EventFailure:      StateIdle,
		EventDeviceError:  StateIdle,
		EventDisconnect:   StateIdle,
	},
}

// Transition returns the state reached from `from` on ev. Pairs missing from
// the table yield ErrInvalidTransition.
func Transition(from State, ev Event) (State, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, ev)
}
