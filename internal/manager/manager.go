// SPDX-License-Identifier: GPL-3.0-or-later

// Package manager supervises the process's stream workers: at most one
// worker per stream id, lazy start, restart with backoff after a crash,
// and cooperative shutdown of the whole fleet within a grace deadline.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/bridgeerr"
	"github.com/emfoursolutions/trakbridge-core/internal/cot"
	"github.com/emfoursolutions/trakbridge-core/internal/governor"
	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
	"github.com/emfoursolutions/trakbridge-core/internal/provider"
	"github.com/emfoursolutions/trakbridge-core/internal/worker"
)

// stopExtraGrace bounds how much longer StopAll waits beyond the
// caller's grace for workers to acknowledge cancellation.
const stopExtraGrace = time.Second

// defaultRestartBackoff is the supervise-and-restart schedule: after
// the last delay is spent the stream is marked failed and left alone.
var defaultRestartBackoff = []time.Duration{
	time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second,
}

// Deps holds the shared collaborators the manager hands every worker it
// builds, plus the per-stream provider resolver.
type Deps struct {
	// Providers resolves a provider kind tag to its client. Required.
	Providers func(kind string) (provider.Client, error)

	// HTTPSession is the process-shared pooled HTTP client. Required.
	HTTPSession *http.Client

	// Encoder renders locations as CoT XML. Required.
	Encoder *cot.Encoder

	// Governor decides serial versus parallel encoding. Required.
	Governor *governor.Governor

	// Sinks resolves server ids to TAK connections. Required.
	Sinks worker.SinkRegistry

	// Metrics may be nil to disable recording.
	Metrics *metrics.Metrics

	// Logger may be nil for a no-op logger.
	Logger netpipe.SLogger

	// RestartBackoff overrides the crash-restart schedule; nil uses the
	// default 1s, 2s, 5s, 10s.
	RestartBackoff []time.Duration
}

// workerDeps assembles the per-stream dependency bundle around client.
func (m *Manager) workerDeps(client provider.Client) worker.Deps {
	return worker.Deps{
		Provider:    client,
		HTTPSession: m.deps.HTTPSession,
		Encoder:     m.deps.Encoder,
		Governor:    m.deps.Governor,
		Sinks:       m.deps.Sinks,
		Metrics:     m.deps.Metrics,
		Logger:      m.deps.Logger,
	}
}

// supervised is one stream's slot in the registry.
type supervised struct {
	cfg    model.StreamConfig
	w      *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
	failed bool
}

// Manager is the process-wide stream worker registry. Construct with
// [New]; it is safe for concurrent use.
type Manager struct {
	deps Deps

	mu      sync.Mutex
	configs map[int]model.StreamConfig
	slots   map[int]*supervised
	closed  bool
}

// New constructs a [*Manager].
func New(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = netpipe.DefaultSLogger()
	}
	if deps.RestartBackoff == nil {
		deps.RestartBackoff = defaultRestartBackoff
	}
	return &Manager{
		deps:    deps,
		configs: make(map[int]model.StreamConfig),
		slots:   make(map[int]*supervised),
	}
}

// LoadAll registers the configuration snapshot and starts a worker for
// every active stream. Inactive streams are registered but not started.
// A stream that fails to start does not prevent the others.
func (m *Manager) LoadAll(cfgs []model.StreamConfig) {
	for _, cfg := range cfgs {
		m.mu.Lock()
		m.configs[cfg.ID] = cfg
		m.mu.Unlock()
		if cfg.Active {
			if err := m.Start(cfg.ID); err != nil {
				m.deps.Logger.Info("streamStartFailed", "streamID", cfg.ID, "err", err)
			}
		}
	}
}

// Start launches the worker for id, if not already running. Starting an
// unknown stream is a configuration error.
func (m *Manager) Start(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &bridgeerr.ConfigurationError{StreamID: id, Reason: "manager is stopped"}
	}
	cfg, ok := m.configs[id]
	if !ok {
		return &bridgeerr.ConfigurationError{StreamID: id, Reason: "unknown stream id"}
	}
	if slot, ok := m.slots[id]; ok && !slot.failed {
		select {
		case <-slot.done:
			// Fell through: the previous supervision loop has fully
			// exited, so a fresh one may take the slot.
		default:
			return nil
		}
	}

	m.startLocked(cfg)
	return nil
}

// startLocked installs a fresh supervised slot for cfg and spawns its
// supervision loop. Caller holds m.mu.
func (m *Manager) startLocked(cfg model.StreamConfig) {
	client, err := m.deps.Providers(cfg.ProviderKind)
	if err != nil {
		m.deps.Logger.Info("streamProviderUnknown", "streamID", cfg.ID, "kind", cfg.ProviderKind, "err", err)
		m.slots[cfg.ID] = &supervised{cfg: cfg, done: closedChan(), failed: true}
		return
	}
	deps := m.workerDeps(client)

	ctx, cancel := context.WithCancel(context.Background())
	slot := &supervised{
		cfg:    cfg,
		w:      worker.New(cfg, deps),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.slots[cfg.ID] = slot
	go m.supervise(ctx, slot, deps)
}

// supervise runs the worker and restarts it with backoff after a crash.
// A clean stop or a fatal (auth/configuration) error ends supervision.
func (m *Manager) supervise(ctx context.Context, slot *supervised, deps worker.Deps) {
	defer close(slot.done)

	for attempt := 0; ; attempt++ {
		err := m.runOnce(ctx, slot.w)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		if isFatal(err) {
			m.deps.Logger.Info("streamFailed", "streamID", slot.cfg.ID,
				"err", err, "errClass", bridgeerr.Classify(err))
			m.markFailed(slot)
			return
		}

		if attempt >= len(m.deps.RestartBackoff) {
			m.deps.Logger.Info("streamGaveUp", "streamID", slot.cfg.ID, "restarts", attempt)
			m.markFailed(slot)
			return
		}

		delay := m.deps.RestartBackoff[attempt]
		m.deps.Logger.Info("streamRestarting", "streamID", slot.cfg.ID,
			"attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		// Workers are single-use: rebuild from the current config so a
		// reconfigure applied while crashed is picked up on restart.
		m.mu.Lock()
		slot.w = worker.New(m.configs[slot.cfg.ID], deps)
		m.mu.Unlock()
	}
}

// runOnce runs the worker, converting a panic into an error so the
// supervision loop can restart rather than take the process down.
func (m *Manager) runOnce(ctx context.Context, w *worker.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.Run(ctx)
}

// isFatal reports whether err should end supervision instead of
// triggering a restart: auth errors require a reconfigure to clear and
// configuration errors will not heal by retrying.
func isFatal(err error) bool {
	switch err.(type) {
	case *bridgeerr.AuthProviderError, *bridgeerr.ConfigurationError:
		return true
	default:
		return false
	}
}

func (m *Manager) markFailed(slot *supervised) {
	m.mu.Lock()
	slot.failed = true
	m.mu.Unlock()
}

// Stop cancels the worker for id and waits for its supervision loop to
// exit. Stopping an unknown or already-stopped stream is a no-op.
func (m *Manager) Stop(id int) {
	m.mu.Lock()
	slot, ok := m.slots[id]
	if ok {
		delete(m.slots, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.stopSlot(slot, stopExtraGrace)
}

// StopAll cancels every worker concurrently and returns once all have
// exited or grace plus a small constant has elapsed.
func (m *Manager) StopAll(grace time.Duration) {
	m.mu.Lock()
	m.closed = true
	slots := make([]*supervised, 0, len(m.slots))
	for id, slot := range m.slots {
		slots = append(slots, slot)
		delete(m.slots, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot *supervised) {
			defer wg.Done()
			m.stopSlot(slot, grace+stopExtraGrace)
		}(slot)
	}
	wg.Wait()
}

func (m *Manager) stopSlot(slot *supervised, wait time.Duration) {
	if slot.cancel != nil {
		slot.cancel()
	}
	select {
	case <-slot.done:
	case <-time.After(wait):
		m.deps.Logger.Info("streamStopTimeout", "streamID", slot.cfg.ID)
	}
}

// Reconfigure applies cfg to the stream: a live worker swaps tick loops
// atomically; a failed or stopped one is rebuilt and restarted, which is
// also how an auth-failed stream is cleared.
func (m *Manager) Reconfigure(id int, cfg model.StreamConfig) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &bridgeerr.ConfigurationError{StreamID: id, Reason: "manager is stopped"}
	}
	m.configs[id] = cfg
	slot, ok := m.slots[id]
	m.mu.Unlock()

	if ok && !slot.failed {
		select {
		case <-slot.done:
		default:
			slot.w.Reconfigure(cfg)
			m.mu.Lock()
			slot.cfg = cfg
			m.mu.Unlock()
			return nil
		}
	}

	if ok {
		m.Stop(id)
	}
	if !cfg.Active {
		return nil
	}
	return m.Start(id)
}

// TriggerNow preempts the stream's inter-tick sleep, if it is running.
func (m *Manager) TriggerNow(id int) {
	m.mu.Lock()
	slot, ok := m.slots[id]
	m.mu.Unlock()
	if ok && slot.w != nil {
		slot.w.TriggerNow()
	}
}

// StatusAll returns a snapshot of every registered stream. Streams that
// are registered but never started report Stopped.
func (m *Manager) StatusAll() []worker.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]worker.Status, 0, len(m.configs))
	for id, cfg := range m.configs {
		slot, ok := m.slots[id]
		if ok && slot.w != nil {
			status := slot.w.Status()
			if slot.failed {
				status.State = worker.Failed
			}
			out = append(out, status)
			continue
		}
		status := worker.Status{StreamID: id, Name: cfg.Name, State: worker.Stopped}
		if ok && slot.failed {
			status.State = worker.Failed
		}
		out = append(out, status)
	}
	return out
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
