// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package conn

// State is the lifecycle state of a healing connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHealthy
	StateUnhealthy
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions as an adjacency list.
var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateConnecting:   true,
		StateDisconnected: true,
	},
	StateConnecting: {
		StateHealthy:      true,
		StateDisconnected: true,
	},
	StateHealthy: {
		StateUnhealthy:    true,
		StateConnecting:   true,
		StateDisconnected: true,
	},
	StateUnhealthy: {
		StateHealthy:      true,
		StateConnecting:   true,
		StateDisconnected: true,
	},
	StateDisconnected: {
		StateConnecting: true,
	},
}

// ValidTransition returns true if transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// Connected reports whether the state has live sockets.
func (s State) Connected() bool {
	return s == StateHealthy || s == StateUnhealthy
}
