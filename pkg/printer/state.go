// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

// State is the printer driver's lifecycle state. It is owned exclusively by
// the driver and mutated only on its own control flow; readers get an
// eventually-consistent snapshot.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDownloading
	StatePrinting
	StateHeating
	StatePausing
	StatePaused
	StateCanceling
	StateDisconnecting
)

// String returns the state's display name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDownloading:
		return "downloading"
	case StatePrinting:
		return "printing"
	case StateHeating:
		return "heating"
	case StatePausing:
		return "pausing"
	case StatePaused:
		return "paused"
	case StateCanceling:
		return "canceling"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "invalid"
	}
}

// Connected reports whether the driver holds a usable connection.
func (s State) Connected() bool {
	switch s {
	case StateReady, StateDownloading, StatePrinting, StateHeating, StateCanceling:
		return true
	default:
		return false
	}
}

// Busy reports whether the driver is connected and occupied with something
// other than waiting for work.
func (s State) Busy() bool {
	return s.Connected() && s != StateReady
}

// printing reports whether the state belongs to an active print attempt,
// the precondition for AbortPrint.
func (s State) printing() bool {
	switch s {
	case StateDownloading, StatePrinting, StateHeating, StatePausing, StatePaused:
		return true
	default:
		return false
	}
}
