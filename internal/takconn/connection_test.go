// SPDX-License-Identifier: GPL-3.0-or-later

package takconn

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

func listenerConfig(t *testing.T, id int) (model.TakServerConfig, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return model.TakServerConfig{
		ID:             id,
		Host:           "127.0.0.1",
		Port:           ln.Addr().(*net.TCPAddr).Port,
		Protocol:       "tcp",
		QueueCapacity:  16,
		OverflowPolicy: model.OverflowDropNewest,
	}, ln
}

// readFrames reads from conn until count null-terminated frames have
// arrived or the deadline expires.
func readFrames(t *testing.T, conn net.Conn, count int) [][]byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var buf bytes.Buffer
	tmp := make([]byte, 256)
	for bytes.Count(buf.Bytes(), []byte{0}) < count {
		n, err := conn.Read(tmp)
		require.NoError(t, err)
		buf.Write(tmp[:n])
	}

	raw := bytes.Split(buf.Bytes(), []byte{0})
	return raw[:count]
}

// Wire contract: each event is written as its UTF-8 XML bytes followed
// by a single 0x00 delimiter, in enqueue order.
func TestWriterFramesEventsWithNullDelimiter(t *testing.T) {
	cfg, ln := listenerConfig(t, 7)
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Close()

	c.Enqueue([]byte(`<event uid="1"/>`))
	c.Enqueue([]byte(`<event uid="2"/>`))
	c.Enqueue([]byte(`<event uid="3"/>`))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	frames := readFrames(t, conn, 3)
	assert.Equal(t, []byte(`<event uid="1"/>`), frames[0])
	assert.Equal(t, []byte(`<event uid="2"/>`), frames[1])
	assert.Equal(t, []byte(`<event uid="3"/>`), frames[2])
}

func TestWireOrderMatchesEnqueueOrder(t *testing.T) {
	cfg, ln := listenerConfig(t, 8)
	cfg.QueueCapacity = 128
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Close()

	const n = 100
	for i := 0; i < n; i++ {
		require.Equal(t, EnqueueAccepted, c.Enqueue([]byte(fmt.Sprintf(`<event uid="%d"/>`, i))))
	}

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	frames := readFrames(t, conn, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf(`<event uid="%d"/>`, i), string(frames[i]))
	}
}

func TestHealthReportsConnectedState(t *testing.T) {
	cfg, ln := listenerConfig(t, 9)
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Close()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		h := c.Health()
		return h.State == Connected && h.ConnectedSince != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 9, c.Health().ServerID)
}

func TestDialFailureRecordsConnectionError(t *testing.T) {
	cfg, ln := listenerConfig(t, 10)
	ln.Close() // port is now closed, dialing must fail

	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Close()

	require.Eventually(t, func() bool {
		h := c.Health()
		return h.ConsecutiveFailures >= 1 && h.LastError != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFlushOnConfigChangeDropsQueuedItems(t *testing.T) {
	cfg, _ := listenerConfig(t, 11)
	c := New(cfg, nil, nil, nil)
	// Not running: items stay queued.
	c.Enqueue([]byte("<event/>"))
	c.Enqueue([]byte("<event/>"))
	require.Equal(t, 2, c.Health().QueueDepth)

	c.FlushOnConfigChange()
	assert.Equal(t, 0, c.Health().QueueDepth)

	// The fresh queue accepts new items.
	assert.Equal(t, EnqueueAccepted, c.Enqueue([]byte("<event/>")))
}

func TestCloseReachesTerminalState(t *testing.T) {
	cfg, ln := listenerConfig(t, 12)
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	c.Close()
	require.Eventually(t, func() bool {
		return c.Health().State == Closed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDrainWritesQueuedItemsBeforeClosing(t *testing.T) {
	cfg, ln := listenerConfig(t, 13)
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Enqueue([]byte("<event/>"))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		c.Drain(time.Second)
		close(done)
	}()

	frames := readFrames(t, conn, 1)
	assert.Equal(t, []byte("<event/>"), frames[0])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}
}

func TestPeerCloseTriggersReconnect(t *testing.T) {
	cfg, ln := listenerConfig(t, 14)
	c := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Close()

	conn, err := ln.Accept()
	require.NoError(t, err)
	conn.Close()

	// Keep enqueueing until a write against the dead peer fails and the
	// reconnect loop dials again; the listener accepts that attempt.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				c.Enqueue([]byte("<event/>"))
			}
		}
	}()

	require.NoError(t, ln.(*net.TCPListener).SetDeadline(time.Now().Add(5*time.Second)))
	second, err := ln.Accept()
	require.NoError(t, err)
	defer second.Close()
}
