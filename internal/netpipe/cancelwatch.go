// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"net"

	"github.com/bassosimone/safeconn"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc arranges for the connection to be closed when the
// context is done (cancelled or deadline exceeded). This is what makes
// a TAK connection's shutdown responsive: the writer may be blocked in
// a send to a stalled server, and cancelling the connection's run
// context closes the socket out from under it rather than waiting for
// a per-operation timeout.
//
// The returned connection wraps the input connection. Closing the
// returned connection unregisters the context watcher and closes the
// underlying connection. This ensures no goroutine leaks even if the
// context is never cancelled.
//
// The watcher is safe to use with any [net.Conn] implementation because
// Go's standard library uses the [net.ErrClosed] pattern: closing an
// already-closed connection returns [net.ErrClosed], and I/O operations
// on a closed connection fail gracefully. The [ObserveConnFunc] wrapper
// follows this same pattern.
//
// Bind the watcher to the context that owns the connection's lifetime:
// for the bridge that is the per-connection run context, cancelled by
// the registry on Close/CloseAll, never a per-tick or per-write one.
type CancelWatchFunc struct {
	// Logger, when non-nil, receives a cancelWatchClosed event when the
	// watcher fires and closes the connection.
	Logger SLogger
}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers a context watcher using [context.AfterFunc] that closes
// the connection when the context is done. The returned [net.Conn] wraps
// the input: closing it unregisters the watcher and closes the underlying
// connection.
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	logger := op.Logger
	if logger == nil {
		logger = DefaultSLogger()
	}
	stop := context.AfterFunc(ctx, func() {
		logger.Info(
			"cancelWatchClosed",
			"localAddr", safeconn.LocalAddr(conn),
			"protocol", safeconn.Network(conn),
			"remoteAddr", safeconn.RemoteAddr(conn),
		)
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

// cancelWatchedConn wraps a [net.Conn] with a context cancellation watcher.
type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
