// SPDX-License-Identifier: GPL-3.0-or-later

// Package cotservice is the process-wide registry of TAK connections:
// one [*takconn.Connection] per server id, created single-flight and
// shared by every stream worker that targets that server.
package cotservice

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
	"github.com/emfoursolutions/trakbridge-core/internal/takconn"
	"github.com/emfoursolutions/trakbridge-core/internal/worker"
)

// closeExtraGrace bounds how long Close waits for a connection's run
// loop to exit after its drain grace has already elapsed.
const closeExtraGrace = time.Second

type entry struct {
	conn   *takconn.Connection
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the lifetime of every TAK connection in the process.
// Construct with [New]; connections run until [*Service.Close] or
// [*Service.CloseAll].
type Service struct {
	netCfg  *netpipe.Config
	metrics *metrics.Metrics
	logger  netpipe.SLogger

	mu      sync.Mutex
	entries map[int]*entry
	group   singleflight.Group
}

// New constructs a [*Service]. netCfg, m and logger may be nil.
func New(netCfg *netpipe.Config, m *metrics.Metrics, logger netpipe.SLogger) *Service {
	if netCfg == nil {
		netCfg = netpipe.NewConfig()
	}
	if logger == nil {
		logger = netpipe.DefaultSLogger()
	}
	return &Service{
		netCfg:  netCfg,
		metrics: m,
		logger:  logger,
		entries: make(map[int]*entry),
	}
}

// GetOrCreate returns the connection for cfg.ID, starting one if none
// exists yet. Creation is single-flight per server id: concurrent
// callers for the same id all receive the same connection, and its
// reconnect loop is spawned exactly once.
func (s *Service) GetOrCreate(cfg model.TakServerConfig) (*takconn.Connection, error) {
	if err := model.ValidateTakServerConfig(cfg); err != nil {
		return nil, err
	}

	v, err, _ := s.group.Do(strconv.Itoa(cfg.ID), func() (any, error) {
		s.mu.Lock()
		if e, ok := s.entries[cfg.ID]; ok {
			s.mu.Unlock()
			return e.conn, nil
		}
		s.mu.Unlock()

		conn := takconn.New(cfg, s.netCfg, s.metrics, s.logger)
		ctx, cancel := context.WithCancel(context.Background())
		e := &entry{conn: conn, cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(e.done)
			conn.Run(ctx)
		}()

		s.mu.Lock()
		s.entries[cfg.ID] = e
		s.mu.Unlock()

		s.logger.Info("cotServiceConnectionCreated", "serverID", cfg.ID,
			"host", cfg.Host, "port", cfg.Port, "protocol", cfg.Protocol)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*takconn.Connection), nil
}

// Lookup returns the connection for serverID without creating one.
func (s *Service) Lookup(serverID int) (*takconn.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[serverID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Close drains the connection for serverID for up to grace, then tears
// it down and forgets it. Closing an unknown id is a no-op.
func (s *Service) Close(serverID int, grace time.Duration) {
	s.mu.Lock()
	e, ok := s.entries[serverID]
	if ok {
		delete(s.entries, serverID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.closeEntry(e, grace)
}

// CloseAll drains and tears down every registered connection, waiting
// for each one concurrently so the total wait is bounded by grace plus
// a small constant rather than grace times the connection count.
func (s *Service) CloseAll(grace time.Duration) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		entries = append(entries, e)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.closeEntry(e, grace)
		}(e)
	}
	wg.Wait()
}

func (s *Service) closeEntry(e *entry, grace time.Duration) {
	e.conn.Drain(grace)
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(closeExtraGrace):
	}
}

// Statuses returns a point-in-time health snapshot of every connection.
func (s *Service) Statuses() []takconn.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]takconn.Health, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.conn.Health())
	}
	return out
}

// sinkView adapts the service to the sink-registry shape the worker
// package consumes, so workers never see connection lifecycle methods.
type sinkView struct{ s *Service }

// Lookup implements [worker.SinkRegistry].
func (v sinkView) Lookup(serverID int) (worker.Sink, bool) {
	conn, ok := v.s.Lookup(serverID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// Sinks returns a registry view suitable for [worker.Deps.Sinks].
func (s *Service) Sinks() worker.SinkRegistry {
	return sinkView{s}
}
