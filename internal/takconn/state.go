// SPDX-License-Identifier: GPL-3.0-or-later

// Package takconn implements a persistent, reconnecting connection to a
// single TAK server: a bounded, overflow-policy FIFO queue feeding a
// single writer goroutine, backed by an explicit state machine and
// exponential backoff reconnection.
package takconn

import "time"

// State is a [*Connection]'s lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
	Closed
)

// String renders the state the way the rest of the core logs it.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Health is a point-in-time snapshot of a [*Connection]'s status.
type Health struct {
	ServerID            int
	State               State
	QueueDepth          int
	ConsecutiveFailures int
	LastError           error
	ConnectedSince      *time.Time
	BytesWrittenTotal   int64
}
