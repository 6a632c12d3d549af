// SPDX-License-Identifier: GPL-3.0-or-later

// Package worker drives one stream pipeline: poll the provider on a
// cadence, apply callsign mappings, encode the batch to CoT events, and
// fan the encoded events out to every attached TAK connection. One
// worker exists per active stream configuration.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/emfoursolutions/trakbridge-core/internal/bridgeerr"
	"github.com/emfoursolutions/trakbridge-core/internal/callsign"
	"github.com/emfoursolutions/trakbridge-core/internal/cot"
	"github.com/emfoursolutions/trakbridge-core/internal/governor"
	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
	"github.com/emfoursolutions/trakbridge-core/internal/model"
	"github.com/emfoursolutions/trakbridge-core/internal/netpipe"
	"github.com/emfoursolutions/trakbridge-core/internal/provider"
	"github.com/emfoursolutions/trakbridge-core/internal/takconn"
)

// degradedThreshold is the number of consecutive fetch failures after
// which a worker is marked degraded and its poll interval widens.
const degradedThreshold = 5

// maxIntervalMultiplier caps how far a degraded worker's poll interval
// widens relative to the configured one.
const maxIntervalMultiplier = 10

// maxFetchTimeout bounds the per-tick fetch budget regardless of how
// long the poll interval is.
const maxFetchTimeout = 60 * time.Second

// Sink is the slice of a TAK connection a worker needs: event
// submission and queue invalidation on reconfigure. Implemented by
// *takconn.Connection.
type Sink interface {
	Enqueue(event []byte) takconn.EnqueueResult
	FlushOnConfigChange()
}

// SinkRegistry resolves server ids to sinks. Implemented by an adapter
// over *cotservice.Service.
type SinkRegistry interface {
	Lookup(serverID int) (Sink, bool)
}

// State is a worker's lifecycle position.
type State int

const (
	Running State = iota
	Degraded
	Failed
	Stopped
)

// String renders the state the way the status surface reports it.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a worker.
type Status struct {
	StreamID            int
	Name                string
	State               State
	ConsecutiveFailures int
	LastError           error
	LastErrorAt         time.Time
	LastTickAt          time.Time
	LastBatchSize       int
}

// Deps holds the collaborators a worker needs. Everything is passed
// explicitly; the worker holds no ambient singletons.
type Deps struct {
	// Provider fetches the stream's locations. Required.
	Provider provider.Client

	// HTTPSession is the process-shared pooled HTTP client handed to
	// Provider.Fetch. Required.
	HTTPSession *http.Client

	// Encoder renders locations as CoT XML. Required.
	Encoder *cot.Encoder

	// Governor decides serial versus parallel encoding. Required.
	Governor *governor.Governor

	// Sinks resolves the stream's attached server ids. Required.
	Sinks SinkRegistry

	// Metrics may be nil to disable recording.
	Metrics *metrics.Metrics

	// Logger may be nil for a no-op logger.
	Logger netpipe.SLogger
}

// Worker runs one stream's tick loop. Construct with [New], then either
// call [*Worker.Run] directly (it blocks) or [*Worker.Start] to spawn
// it. A worker is not restartable: after Run returns, build a new one.
type Worker struct {
	deps Deps

	mu         sync.Mutex
	cfg        model.StreamConfig
	state      State
	failures   int
	lastErr    error
	lastErrAt  time.Time
	lastTickAt time.Time
	lastBatch  int
	tickCancel context.CancelFunc

	trigger  chan struct{}
	reloaded chan struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
}

// New constructs a [*Worker] for cfg. The configuration is validated by
// Run, not here, so a misconfigured stream surfaces as a Failed status
// rather than a constructor error.
func New(cfg model.StreamConfig, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = netpipe.DefaultSLogger()
	}
	return &Worker{
		deps:     deps,
		cfg:      cfg,
		state:    Stopped,
		trigger:  make(chan struct{}, 1),
		reloaded: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run validates the configuration and drives the tick loop until ctx is
// cancelled (returns nil), the provider reports an auth error, or the
// configuration is unusable (returns the named error and leaves the
// worker Failed). The first tick happens immediately; subsequent ticks
// follow the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)

	if err := w.validate(); err != nil {
		w.setState(Failed)
		w.recordError(err)
		w.runErr = err
		return err
	}
	w.setState(Running)

	for {
		if err := w.tick(ctx); err != nil {
			var authErr *bridgeerr.AuthProviderError
			if errors.As(err, &authErr) {
				w.setState(Failed)
				w.runErr = err
				return err
			}
		}

		select {
		case <-ctx.Done():
			w.setState(Stopped)
			return nil
		case <-w.trigger:
		case <-w.reloaded:
		case <-w.sleepUntilNextTick():
		}
	}
}

// sleepUntilNextTick returns a channel that fires after the effective
// poll interval: the configured one, widened while degraded.
func (w *Worker) sleepUntilNextTick() <-chan time.Time {
	w.mu.Lock()
	interval := w.cfg.PollInterval
	multiplier := intervalMultiplier(w.failures)
	w.mu.Unlock()
	return time.After(interval * time.Duration(multiplier))
}

// intervalMultiplier widens the cadence while degraded: 2x at the
// degraded threshold, doubling per further failure, capped at 10x.
func intervalMultiplier(failures int) int {
	if failures < degradedThreshold {
		return 1
	}
	multiplier := 2
	for i := degradedThreshold; i < failures; i++ {
		multiplier *= 2
		if multiplier >= maxIntervalMultiplier {
			return maxIntervalMultiplier
		}
	}
	return multiplier
}

// validate fails fast on unusable configuration: bad stream invariants
// or an attached server id no sink resolves.
func (w *Worker) validate() error {
	cfg := w.config()
	if err := model.ValidateStreamConfig(cfg); err != nil {
		return &bridgeerr.ConfigurationError{StreamID: cfg.ID, Reason: err.Error()}
	}
	if len(cfg.AttachedServerIDs) == 0 {
		return &bridgeerr.ConfigurationError{StreamID: cfg.ID, Reason: "no attached servers"}
	}
	for _, sid := range cfg.AttachedServerIDs {
		if _, ok := w.deps.Sinks.Lookup(sid); !ok {
			return &bridgeerr.ConfigurationError{
				StreamID: cfg.ID,
				Reason:   fmt.Sprintf("attached server %d is unknown", sid),
			}
		}
	}
	return nil
}

// tick performs one poll round: fetch once, map, encode, then fan the
// same in-memory batch out to every attached server.
func (w *Worker) tick(ctx context.Context) error {
	cfg := w.config()

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.setTickCancel(cancel)

	spanID := netpipe.NewSpanID()
	w.deps.Logger.Info("streamPollStart", "spanID", spanID,
		"streamID", cfg.ID, "provider", cfg.ProviderKind)

	t0 := time.Now()
	locs, err := w.fetch(tickCtx, cfg)
	elapsed := time.Since(t0)

	w.mu.Lock()
	w.lastTickAt = time.Now()
	w.mu.Unlock()

	if err != nil {
		if tickCtx.Err() != nil {
			// Clean stop or reconfigure preemption, not a provider failure.
			return &bridgeerr.CancelledError{Err: tickCtx.Err()}
		}
		w.recordFailedPoll(cfg, spanID, elapsed, err)
		return err
	}

	mapped := callsign.NewMapper(cfg).Apply(locs)

	events := w.deps.Governor.Encode(tickCtx, len(mapped), func(_ context.Context, i int) ([]byte, error) {
		loc := mapped[i]
		return w.deps.Encoder.Encode(loc, cfg, cot.ResolveEffectiveCotType(loc, cfg))
	})

	for _, sid := range cfg.AttachedServerIDs {
		sink, ok := w.deps.Sinks.Lookup(sid)
		if !ok {
			// Validated at start; a server removed at runtime is skipped
			// until the next reconfigure.
			continue
		}
		for _, ev := range events {
			sink.Enqueue(ev)
		}
	}

	w.recordSuccessfulPoll(cfg, spanID, elapsed, len(locs), len(events))
	return nil
}

// fetch calls the provider exactly once with the per-tick timeout:
// one second less than the poll interval, capped at 60 seconds and
// floored at one second.
func (w *Worker) fetch(ctx context.Context, cfg model.StreamConfig) ([]model.Location, error) {
	timeout := cfg.PollInterval - time.Second
	if timeout > maxFetchTimeout {
		timeout = maxFetchTimeout
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.deps.Provider.Fetch(fetchCtx, w.deps.HTTPSession, cfg.ProviderConfig)
}

func (w *Worker) recordFailedPoll(cfg model.StreamConfig, spanID string, elapsed time.Duration, err error) {
	w.recordError(err)

	w.mu.Lock()
	w.failures++
	failures := w.failures
	w.mu.Unlock()

	var authErr *bridgeerr.AuthProviderError
	status := "transient"
	if errors.As(err, &authErr) {
		status = "auth"
	} else if failures >= degradedThreshold {
		w.setState(Degraded)
	}

	w.deps.Logger.Info("streamPollDone", "spanID", spanID, "streamID", cfg.ID,
		"err", err, "errClass", bridgeerr.Classify(err), "t", elapsed)
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordPoll(fmt.Sprintf("%d", cfg.ID), cfg.ProviderKind, status, elapsed, 0)
	}
}

func (w *Worker) recordSuccessfulPoll(cfg model.StreamConfig, spanID string, elapsed time.Duration, fetched, encoded int) {
	w.mu.Lock()
	w.failures = 0
	w.lastBatch = encoded
	if w.state == Degraded {
		w.state = Running
	}
	w.mu.Unlock()
	w.publishStateMetric()

	w.deps.Logger.Info("streamPollDone", "spanID", spanID, "streamID", cfg.ID,
		"fetched", fetched, "encoded", encoded, "t", elapsed)
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordPoll(fmt.Sprintf("%d", cfg.ID), cfg.ProviderKind, "ok", elapsed, fetched)
	}
}

// Reconfigure atomically swaps the worker onto newCfg: the in-flight
// tick is cancelled, each connection targeted before or after the
// attachment change has its queue flushed, and the next tick starts
// immediately from the new configuration. Reconfiguring to an identical
// configuration is a no-op: no flush, no tick restart.
func (w *Worker) Reconfigure(newCfg model.StreamConfig) {
	w.mu.Lock()
	old := w.cfg
	if reflect.DeepEqual(old, newCfg) {
		w.mu.Unlock()
		return
	}
	w.cfg = newCfg
	w.failures = 0
	if w.state == Degraded {
		w.state = Running
	}
	cancel := w.tickCancel
	w.mu.Unlock()

	if !equalIDSets(old.AttachedServerIDs, newCfg.AttachedServerIDs) {
		for _, sid := range unionIDs(old.AttachedServerIDs, newCfg.AttachedServerIDs) {
			if sink, ok := w.deps.Sinks.Lookup(sid); ok {
				sink.FlushOnConfigChange()
			}
		}
	}

	if cancel != nil {
		cancel()
	}
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
	w.deps.Logger.Info("streamReconfigured", "streamID", newCfg.ID)
}

// TriggerNow preempts the inter-tick sleep so the next poll happens
// immediately. Coalesces if a trigger is already pending.
func (w *Worker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start spawns Run in its own goroutine. Idempotent.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		go w.Run(runCtx)
	})
}

// Stop cancels the loop started by [*Worker.Start] and waits for it to
// exit. Stopping a worker that was never started only marks it Stopped.
func (w *Worker) Stop() {
	if w.cancel == nil {
		w.setState(Stopped)
		return
	}
	w.cancel()
	w.mu.Lock()
	cancel := w.tickCancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-w.done
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns the error Run finished with, if any. Valid after Done.
func (w *Worker) Err() error { return w.runErr }

// Status returns a point-in-time snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		StreamID:            w.cfg.ID,
		Name:                w.cfg.Name,
		State:               w.state,
		ConsecutiveFailures: w.failures,
		LastError:           w.lastErr,
		LastErrorAt:         w.lastErrAt,
		LastTickAt:          w.lastTickAt,
		LastBatchSize:       w.lastBatch,
	}
}

func (w *Worker) config() model.StreamConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

func (w *Worker) setTickCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	w.tickCancel = cancel
	w.mu.Unlock()
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.publishStateMetric()
}

func (w *Worker) publishStateMetric() {
	if w.deps.Metrics == nil {
		return
	}
	w.mu.Lock()
	id, state := w.cfg.ID, w.state
	w.mu.Unlock()
	w.deps.Metrics.SetWorkerState(fmt.Sprintf("%d", id), int(state))
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastErrAt = time.Now()
	w.mu.Unlock()
}

func equalIDSets(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func unionIDs(a, b []int) []int {
	set := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, id := range a {
		if !set[id] {
			set[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !set[id] {
			set[id] = true
			out = append(out, id)
		}
	}
	return out
}
