// SPDX-License-Identifier: GPL-3.0-or-later

package takconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/bridgeerr"
	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
)

// resetAfter is how long a connection must stay up before the backoff
// policy's attempt counter resets to zero.
const resetAfter = 60 * time.Second

// Connection is a persistent, reconnecting pipe to a single TAK server:
// events enqueued by a worker are drained by a single writer goroutine
// and written as `bytes + 0x00` over a dial/TLS-handshake connection
// that reconnects with backoff on failure.
//
// Construct with [New]; call [*Connection.Run] in its own goroutine and
// [*Connection.Close] to stop it.
type Connection struct {
	cfg     model.TakServerConfig
	netCfg  *netpipe.Config
	logger  netpipe.SLogger
	metrics *metrics.Metrics

	mu             sync.Mutex
	queue          *boundedQueue
	state          State
	connectedSince *time.Time
	lastErr        error
	failures       int
	bytesWritten   int64

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a [*Connection] for cfg. m and logger may be nil.
func New(cfg model.TakServerConfig, netCfg *netpipe.Config, m *metrics.Metrics, logger netpipe.SLogger) *Connection {
	if netCfg == nil {
		netCfg = netpipe.NewConfig()
	}
	if logger == nil {
		logger = netpipe.DefaultSLogger()
	}
	return &Connection{
		cfg:     cfg,
		netCfg:  netCfg,
		logger:  logger,
		metrics: m,
		queue:   newBoundedQueue(cfg.QueueCapacity, cfg.OverflowPolicy),
		state:   Disconnected,
		done:    make(chan struct{}),
	}
}

// EnqueueResult reports what Enqueue actually did with an event.
type EnqueueResult int

const (
	EnqueueAccepted EnqueueResult = iota
	EnqueueDroppedOldest
	EnqueueDroppedNewest
)

// Enqueue appends event bytes to the write queue, applying the
// configured overflow policy when full. Enqueue never blocks longer
// than the block-overflow grace period and never returns an error: a
// dropped event is counted via metrics, not surfaced as a failure.
func (c *Connection) Enqueue(event []byte) EnqueueResult {
	result := c.currentQueue().Enqueue(event)
	c.recordEnqueueResult(result)
	return EnqueueResult(result)
}

// currentQueue returns the active queue pointer, safe against a
// concurrent FlushOnConfigChange swap.
func (c *Connection) currentQueue() *boundedQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

func (c *Connection) recordEnqueueResult(result enqueueResult) {
	if c.metrics == nil {
		return
	}
	serverID := fmt.Sprintf("%d", c.cfg.ID)
	c.metrics.SetQueueDepth(serverID, c.currentQueue().Depth())
	switch result {
	case enqueueDroppedOldest:
		c.metrics.RecordQueueDrop(serverID, string(model.OverflowDropOldest))
	case enqueueDroppedNewest:
		c.metrics.RecordQueueDrop(serverID, string(model.OverflowDropNewest))
	}
}

// Health returns a point-in-time snapshot of the connection's status.
func (c *Connection) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		ServerID:            c.cfg.ID,
		State:               c.state,
		QueueDepth:          c.queue.Depth(),
		ConsecutiveFailures: c.failures,
		LastError:           c.lastErr,
		ConnectedSince:      c.connectedSince,
		BytesWrittenTotal:   c.bytesWritten,
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	if s == Connected {
		now := time.Now()
		c.connectedSince = &now
	} else {
		c.connectedSince = nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetConnectionState(fmt.Sprintf("%d", c.cfg.ID), int(s))
	}
}

func (c *Connection) recordFailure(err error) {
	c.mu.Lock()
	c.failures++
	c.lastErr = err
	c.mu.Unlock()
}

// Run drives the connect/write/reconnect loop until ctx is cancelled or
// Close is called. Run returns only after the connection is fully torn
// down.
func (c *Connection) Run(ctx context.Context) {
	backoff := newBackoffPolicy()

	for {
		select {
		case <-ctx.Done():
			c.setState(Closed)
			return
		case <-c.done:
			c.setState(Closed)
			return
		default:
		}

		c.setState(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.recordFailure(&bridgeerr.ConnectionError{ServerID: c.cfg.ID, Err: err})
			c.setState(Disconnected)
			if c.metrics != nil {
				c.metrics.RecordReconnect(fmt.Sprintf("%d", c.cfg.ID))
			}
			if !c.sleepBackoff(ctx, backoff.Next()) {
				c.setState(Closed)
				return
			}
			continue
		}

		c.setState(Connected)
		connectedAt := time.Now()
		c.writeLoop(ctx, conn)
		conn.Close()

		if time.Since(connectedAt) >= resetAfter {
			backoff.Reset()
		}

		select {
		case <-ctx.Done():
			c.setState(Closed)
			return
		case <-c.done:
			c.setState(Closed)
			return
		default:
		}

		c.setState(Disconnected)
		if !c.sleepBackoff(ctx, backoff.Next()) {
			c.setState(Closed)
			return
		}
	}
}

func (c *Connection) sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// dial assembles and runs the connection pipeline for the server:
// dial, observe the event stream, close-on-cancel, and, for a tls
// endpoint, handshake with the PKCS#12 client identity. Each stage
// closes what it was handed on failure, so a half-built pipeline never
// leaks its socket.
func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	address := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	watchFn := netpipe.NewCancelWatchFunc()
	watchFn.Logger = c.logger

	plain := netpipe.Compose3[string, net.Conn, net.Conn, net.Conn](
		netpipe.NewConnectFunc(c.netCfg, "tcp", c.logger),
		netpipe.NewObserveConnFunc(c.netCfg, c.logger),
		watchFn,
	)

	if c.cfg.Protocol != "tls" {
		return plain.Call(ctx, address)
	}

	tlsConfig, err := buildTLSConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	secure := netpipe.Compose2[string, net.Conn, netpipe.TLSConn](
		plain,
		netpipe.NewTLSHandshakeFunc(c.netCfg, tlsConfig, c.logger),
	)
	tlsConn, err := secure.Call(ctx, address)
	if err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// writeLoop drains the queue and writes each item as `bytes + 0x00`
// until the connection fails or the connection is asked to stop. An
// in-flight write always completes even if FlushOnConfigChange swaps
// the queue concurrently, since the item was already dequeued.
func (c *Connection) writeLoop(ctx context.Context, conn net.Conn) {
	for {
		item, ok := c.dequeueOrStop(ctx)
		if !ok {
			return
		}

		framed := append(append([]byte{}, item...), 0)
		n, err := conn.Write(framed)
		c.mu.Lock()
		c.bytesWritten += int64(n)
		c.mu.Unlock()
		if err != nil {
			c.recordFailure(&bridgeerr.ConnectionError{ServerID: c.cfg.ID, Err: err})
			return
		}
	}
}

// dequeueOrStop blocks on the queue until an item arrives, ctx is
// cancelled, or Close is called.
func (c *Connection) dequeueOrStop(ctx context.Context) ([]byte, bool) {
	type result struct {
		item []byte
		ok   bool
	}
	out := make(chan result, 1)
	go func() {
		item, ok := c.currentQueue().Dequeue()
		out <- result{item, ok}
	}()

	select {
	case r := <-out:
		return r.item, r.ok
	case <-ctx.Done():
		return nil, false
	case <-c.done:
		return nil, false
	}
}

// Drain flushes queued events for up to grace, then closes the
// connection. Items still queued when grace elapses are discarded.
func (c *Connection) Drain(grace time.Duration) {
	c.setState(Draining)
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) && c.currentQueue().Depth() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	c.Close()
}

// FlushOnConfigChange atomically replaces the write queue with a fresh,
// empty one: any items still queued are dropped, but a write already
// in flight on the old connection completes normally. Pending events
// for the old configuration are discarded by design; the drop is
// counted and logged.
func (c *Connection) FlushOnConfigChange() {
	c.logger.Info("takconnQueueFlushed", "serverID", c.cfg.ID, "dropped", c.currentQueue().Depth())
	c.mu.Lock()
	old := c.queue
	c.queue = newBoundedQueue(c.cfg.QueueCapacity, c.cfg.OverflowPolicy)
	c.mu.Unlock()
	old.Close()
}

// Close transitions the connection to Draining and stops Run after any
// in-flight write completes.
func (c *Connection) Close() {
	c.setState(Draining)
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.currentQueue().Close()
}
