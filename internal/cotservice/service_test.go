// SPDX-License-Identifier: GPL-3.0-or-later

package cotservice

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/takconn"
)

// testServerConfig points at a real local listener so connections can
// actually establish during the test.
func testServerConfig(t *testing.T, id int) (model.TakServerConfig, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return model.TakServerConfig{
		ID:             id,
		Host:           "127.0.0.1",
		Port:           ln.Addr().(*net.TCPAddr).Port,
		Protocol:       "tcp",
		QueueCapacity:  8,
		OverflowPolicy: model.OverflowDropNewest,
	}, ln
}

func TestGetOrCreateReturnsSameConnection(t *testing.T) {
	svc := New(nil, nil, nil)
	defer svc.CloseAll(10 * time.Millisecond)

	cfg, _ := testServerConfig(t, 1)
	first, err := svc.GetOrCreate(cfg)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	svc := New(nil, nil, nil)
	defer svc.CloseAll(10 * time.Millisecond)

	cfg, _ := testServerConfig(t, 1)

	const callers = 16
	conns := make([]*takconn.Connection, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := svc.GetOrCreate(cfg)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, conns[0], conns[i])
	}
}

func TestGetOrCreateRejectsInvalidConfig(t *testing.T) {
	svc := New(nil, nil, nil)
	_, err := svc.GetOrCreate(model.TakServerConfig{ID: 1, Host: "", Protocol: "tcp"})
	require.Error(t, err)
}

func TestLookupMissesUnknownServer(t *testing.T) {
	svc := New(nil, nil, nil)
	_, ok := svc.Lookup(404)
	assert.False(t, ok)
}

func TestSinksViewResolvesConnections(t *testing.T) {
	svc := New(nil, nil, nil)
	defer svc.CloseAll(10 * time.Millisecond)

	cfg, _ := testServerConfig(t, 3)
	_, err := svc.GetOrCreate(cfg)
	require.NoError(t, err)

	sinks := svc.Sinks()
	sink, ok := sinks.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, takconn.EnqueueAccepted, sink.Enqueue([]byte("<event/>")))

	_, ok = sinks.Lookup(99)
	assert.False(t, ok)
}

func TestCloseAllReachesTerminalState(t *testing.T) {
	svc := New(nil, nil, nil)

	cfgA, _ := testServerConfig(t, 1)
	cfgB, _ := testServerConfig(t, 2)
	connA, err := svc.GetOrCreate(cfgA)
	require.NoError(t, err)
	connB, err := svc.GetOrCreate(cfgB)
	require.NoError(t, err)

	svc.CloseAll(50 * time.Millisecond)

	require.Eventually(t, func() bool {
		return connA.Health().State == takconn.Closed &&
			connB.Health().State == takconn.Closed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, svc.Statuses())
}

func TestCloseForgetsConnection(t *testing.T) {
	svc := New(nil, nil, nil)
	defer svc.CloseAll(10 * time.Millisecond)

	cfg, _ := testServerConfig(t, 5)
	_, err := svc.GetOrCreate(cfg)
	require.NoError(t, err)
	require.Len(t, svc.Statuses(), 1)

	svc.Close(5, 10*time.Millisecond)
	_, ok := svc.Lookup(5)
	assert.False(t, ok)

	// Closing again is a no-op.
	svc.Close(5, 10*time.Millisecond)
}
