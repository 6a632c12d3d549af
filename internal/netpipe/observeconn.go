// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// frameDelimiter terminates each CoT event on the wire.
const frameDelimiter = 0x00

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The cfg argument carries the shared classifier and clock; logger is
// the [SLogger] receiving the structured I/O events.
func NewObserveConnFunc(cfg *Config, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a [net.Conn] to log I/O on the event stream to
// a TAK server.
//
// Every read and write emits a Debug event pair; because the writer
// discipline sends one null-terminated CoT event per write, the write
// events additionally report whether the buffer ended on a frame
// boundary, and the wrapper keeps cumulative byte and frame counters
// that are reported when the connection closes. For timeout
// enforcement, pair with [CancelWatchFunc], which closes the
// connection when the context is done so in-progress I/O fails
// immediately.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call wraps conn with the observing layer. It never fails; the error
// return exists to satisfy the [Func] pipeline shape.
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	observed := &observedConn{
		closeonce: sync.Once{},
		conn:      conn,
		laddr:     safeconn.LocalAddr(conn),
		op:        op,
		protocol:  safeconn.Network(conn),
		raddr:     safeconn.RemoteAddr(conn),
	}
	return observed, nil
}

// observedConn observes the event stream flowing over a [net.Conn].
type observedConn struct {
	closeonce     sync.Once
	conn          net.Conn
	laddr         string
	op            *ObserveConnFunc
	protocol      string
	raddr         string
	bytesRead     atomic.Int64
	bytesWritten  atomic.Int64
	framesWritten atomic.Int64
}

// endpointAttrs returns the address attributes every event carries, so
// log lines from concurrent connections to different TAK servers can
// be told apart.
func (c *observedConn) endpointAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
	}
}

func attrsToArgs(attrs []slog.Attr, extra ...slog.Attr) []any {
	out := make([]any, 0, len(attrs)+len(extra))
	for _, a := range extra {
		out = append(out, a)
	}
	for _, a := range attrs {
		out = append(out, a)
	}
	return out
}

// Close implements [net.Conn]. The first close reports the cumulative
// stream counters; subsequent calls return [net.ErrClosed], consistent
// with Go's standard library behavior for closed connections.
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.op.Logger.Info("closeStart", attrsToArgs(c.endpointAttrs(),
			slog.Time("t", t0),
		)...)

		err = c.conn.Close()

		c.op.Logger.Info("closeDone", attrsToArgs(c.endpointAttrs(),
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.Int64("totalBytesRead", c.bytesRead.Load()),
			slog.Int64("totalBytesWritten", c.bytesWritten.Load()),
			slog.Int64("framesWritten", c.framesWritten.Load()),
			slog.Time("t0", t0),
			slog.Time("t", c.op.TimeNow()),
		)...)
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *observedConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Read implements [net.Conn]. The bridge is a producer, so reads are
// rare (TAK servers do not speak back on this stream), but any bytes
// the peer does send are still observed and counted.
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("readStart", attrsToArgs(c.endpointAttrs(),
		slog.Int("ioBufferSize", len(buf)),
		slog.Time("t", t0),
	)...)

	count, err := c.conn.Read(buf)
	c.bytesRead.Add(int64(count))

	c.op.Logger.Debug("readDone", attrsToArgs(c.endpointAttrs(),
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)...)

	return count, err
}

// RemoteAddr implements [net.Conn].
func (c *observedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *observedConn) SetDeadline(t time.Time) error {
	c.logSetDeadline("setDeadline", t)
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.logSetDeadline("setReadDeadline", t)
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.logSetDeadline("setWriteDeadline", t)
	return c.conn.SetWriteDeadline(t)
}

func (c *observedConn) logSetDeadline(event string, t time.Time) {
	c.op.Logger.Debug(event, attrsToArgs(c.endpointAttrs(),
		slog.Time("deadline", t),
		slog.Time("t", c.op.TimeNow()),
	)...)
}

// Write implements [net.Conn]. The single-writer discipline upstream
// sends one null-terminated CoT event per call, so a buffer ending on
// the frame delimiter marks one complete event on the wire; the frame
// counter only advances on fully successful frame writes.
func (c *observedConn) Write(data []byte) (n int, err error) {
	frame := len(data) > 0 && data[len(data)-1] == frameDelimiter
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("writeStart", attrsToArgs(c.endpointAttrs(),
		slog.Int("ioBufferSize", len(data)),
		slog.Bool("ioFrameDelimited", frame),
		slog.Time("t", t0),
	)...)

	count, err := c.conn.Write(data)
	c.bytesWritten.Add(int64(count))
	if frame && err == nil && count == len(data) {
		c.framesWritten.Add(1)
	}

	c.op.Logger.Debug("writeDone", attrsToArgs(c.endpointAttrs(),
		slog.Int("ioBytesCount", count),
		slog.Bool("ioFrameDelimited", frame),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)...)

	return count, err
}
