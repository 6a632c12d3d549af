// SPDX-License-Identifier: GPL-3.0-or-later

// Package governor decides, per encode batch, whether to run serially or
// in parallel, and tracks a circuit breaker over consecutive parallel
// failures so a batch of failures degrades to serial rather than
// compounding.
package governor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/emfoursolutions/trakbridge-core/internal/metrics"
)

// circuitState is the governor's internal breaker state.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// Tunables configures a [*Governor]. The zero value is not usable;
// construct with [NewTunables].
type Tunables struct {
	// BatchSizeThreshold is the minimum batch length to consider parallel
	// processing. Defaults to 10.
	BatchSizeThreshold int

	// MaxConcurrentTasks caps the number of goroutines encoding
	// independent events within one parallel batch. Defaults to 50.
	MaxConcurrentTasks int64

	// ProcessingTimeout is the wall-clock budget for one parallel batch
	// before falling back to serial. Defaults to 30s.
	ProcessingTimeout time.Duration

	// FailureThreshold is the number of consecutive parallel-batch
	// failures that opens the circuit. Defaults to 3.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing
	// with a half-open batch. Defaults to 60s.
	RecoveryTimeout time.Duration

	// ParallelDisabled forces every batch to run serially, regardless of
	// size or circuit state.
	ParallelDisabled bool
}

// NewTunables returns the standard defaults.
func NewTunables() Tunables {
	return Tunables{
		BatchSizeThreshold: 10,
		MaxConcurrentTasks: 50,
		ProcessingTimeout:  30 * time.Second,
		FailureThreshold:   3,
		RecoveryTimeout:    60 * time.Second,
	}
}

// Statistics is a point-in-time snapshot of governor counters.
type Statistics struct {
	TotalFallbacks  int64
	FallbackReasons map[string]int64
	ParallelBatches int64
	SerialBatches   int64
}

// Governor implements the serial/parallel decision and the circuit
// breaker over parallel failures. Safe for concurrent use.
type Governor struct {
	tun     Tunables
	metrics *metrics.Metrics
	timeNow func() time.Time
	sem     *semaphore.Weighted

	mu                  sync.Mutex
	state               circuitState
	consecutiveFailures int
	openedAt            time.Time
	stats               Statistics
}

// New constructs a [*Governor]. m may be nil to disable metrics recording.
func New(tun Tunables, m *metrics.Metrics) *Governor {
	if tun.MaxConcurrentTasks <= 0 {
		tun = NewTunables()
	}
	return &Governor{
		tun:     tun,
		metrics: m,
		timeNow: time.Now,
		sem:     semaphore.NewWeighted(tun.MaxConcurrentTasks),
		stats:   Statistics{FallbackReasons: make(map[string]int64)},
	}
}

// Encode runs encodeOne over every item in batch, deciding between
// serial and parallel execution. encodeOne must be safe
// for concurrent invocation across distinct indices.
func (g *Governor) Encode(ctx context.Context, batchLen int, encodeOne func(ctx context.Context, i int) ([]byte, error)) [][]byte {
	if g.shouldRunSerial(batchLen) {
		return g.runSerial(ctx, batchLen, encodeOne)
	}

	out, fallbackReason, err := g.runParallel(ctx, batchLen, encodeOne)
	if err != nil {
		g.recordFallback(fallbackReason)
		return g.runSerial(ctx, batchLen, encodeOne)
	}
	return out
}

func (g *Governor) shouldRunSerial(batchLen int) bool {
	if g.tun.ParallelDisabled {
		return true
	}
	if batchLen < g.tun.BatchSizeThreshold {
		return true
	}
	return g.circuitForcesSerial()
}

func (g *Governor) circuitForcesSerial() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case circuitOpen:
		if g.timeNow().Sub(g.openedAt) >= g.tun.RecoveryTimeout {
			g.state = circuitHalfOpen
			return false
		}
		return true
	default:
		return false
	}
}

func (g *Governor) runSerial(ctx context.Context, n int, encodeOne func(context.Context, int) ([]byte, error)) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := encodeOne(ctx, i)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	g.recordMode("serial")
	g.mu.Lock()
	g.stats.SerialBatches++
	g.mu.Unlock()
	return out
}

// runParallel runs the batch concurrently bounded by MaxConcurrentTasks
// and ProcessingTimeout. A timeout or a failure to acquire a slot is
// treated as a whole-batch failure: the caller falls back to serial for
// this batch and the circuit breaker's consecutive-failure counter
// advances. Per-item encode errors are not failures; those items are
// left out of the output.
func (g *Governor) runParallel(ctx context.Context, n int, encodeOne func(context.Context, int) ([]byte, error)) (out [][]byte, fallbackReason string, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, g.tun.ProcessingTimeout)
	defer cancel()

	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if acqErr := g.sem.Acquire(timeoutCtx, 1); acqErr != nil {
			g.onParallelResult(false)
			return nil, "acquire_timeout", acqErr
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer g.sem.Release(1)
			b, e := encodeOne(timeoutCtx, i)
			results[i] = b
			errs[i] = e
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-timeoutCtx.Done():
		g.onParallelResult(false)
		return nil, "processing_timeout", timeoutCtx.Err()
	}

	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	// A batch where every item individually failed validation is not a
	// governor failure; only a systemic failure (timeout, acquire error)
	// opens the circuit. Per-item errors are simply skipped from output.
	g.onParallelResult(true)

	out = make([][]byte, 0, n-failed)
	for i, b := range results {
		if errs[i] == nil {
			out = append(out, b)
		}
	}

	g.recordMode("parallel")
	g.mu.Lock()
	g.stats.ParallelBatches++
	g.mu.Unlock()
	return out, "", nil
}

func (g *Governor) onParallelResult(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		g.consecutiveFailures = 0
		if g.state == circuitHalfOpen {
			g.state = circuitClosed
		}
		g.setCircuitMetric()
		return
	}

	g.consecutiveFailures++
	if g.state == circuitHalfOpen || g.consecutiveFailures >= g.tun.FailureThreshold {
		g.state = circuitOpen
		g.openedAt = g.timeNow()
	}
	g.setCircuitMetric()
}

func (g *Governor) setCircuitMetric() {
	if g.metrics == nil {
		return
	}
	g.metrics.SetCircuitState(int(g.state))
}

func (g *Governor) recordMode(mode string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordGovernorDecision(mode)
}

func (g *Governor) recordFallback(reason string) {
	g.mu.Lock()
	g.stats.TotalFallbacks++
	g.stats.FallbackReasons[reason]++
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.RecordGovernorFallback(reason)
	}
}

// Statistics returns a snapshot of the governor's counters.
func (g *Governor) Statistics() Statistics {
	g.mu.Lock()
	defer g.mu.Unlock()

	reasons := make(map[string]int64, len(g.stats.FallbackReasons))
	for k, v := range g.stats.FallbackReasons {
		reasons[k] = v
	}
	return Statistics{
		TotalFallbacks:  g.stats.TotalFallbacks,
		FallbackReasons: reasons,
		ParallelBatches: g.stats.ParallelBatches,
		SerialBatches:   g.stats.SerialBatches,
	}
}

// ResetStatistics zeroes every counter, for periodic statistics_reset_interval use.
func (g *Governor) ResetStatistics() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = Statistics{FallbackReasons: make(map[string]int64)}
}

// RunStatisticsReset zeroes the governor's counters every interval
// until ctx is cancelled. A non-positive interval disables the loop.
func (g *Governor) RunStatisticsReset(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.ResetStatistics()
		}
	}
}
