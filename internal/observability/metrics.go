// Package observability keeps in-process counters for the fulfillment
// facade: per-operation latency, saga outcomes, and throttling waits.
// The snapshot is served as JSON, no external metrics backend required.
package observability

import (
	"sync"
	"time"
)

type OperationSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// OutcomeSnapshot counts terminal saga verdicts since start.
type OutcomeSnapshot struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Declined  int64 `json:"declined"`
	Replayed  int64 `json:"replayed"`
}

type Snapshot struct {
	UptimeSec       int64                        `json:"uptime_sec"`
	TotalRequests   int64                        `json:"total_requests"`
	TotalErrors     int64                        `json:"total_errors"`
	InFlight        int64                        `json:"in_flight"`
	RateLimitWaits  int64                        `json:"rate_limit_waits"`
	RateLimitWaitMs int64                        `json:"rate_limit_wait_ms"`
	Outcomes        OutcomeSnapshot              `json:"outcomes"`
	Lifecycle       *LifecycleSnapshot           `json:"lifecycle,omitempty"`
	Operations      map[string]OperationSnapshot `json:"operations"`
}

type operationStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	operations     map[string]*operationStats
	outcomes       OutcomeSnapshot
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

type CallSpan struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:      time.Now(),
		operations: make(map[string]*operationStats),
	}
}

func (m *Metrics) Start(operation string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics:   m,
		operation: operation,
		start:     time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.operation, dur, err != nil)
}

// Saga outcome counters, bumped by the facade once per verdict.

func (m *Metrics) MarkSucceeded() { m.bumpOutcome(func(o *OutcomeSnapshot) { o.Succeeded++ }) }
func (m *Metrics) MarkFailed()    { m.bumpOutcome(func(o *OutcomeSnapshot) { o.Failed++ }) }
func (m *Metrics) MarkDeclined()  { m.bumpOutcome(func(o *OutcomeSnapshot) { o.Declined++ }) }
func (m *Metrics) MarkReplayed()  { m.bumpOutcome(func(o *OutcomeSnapshot) { o.Replayed++ }) }

func (m *Metrics) bumpOutcome(apply func(*OutcomeSnapshot)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	apply(&m.outcomes)
	m.mu.Unlock()
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Operations:      make(map[string]OperationSnapshot),
		Outcomes:        m.outcomes,
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for operation, stats := range m.operations {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Operations[operation] = OperationSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureOperation(operation string) *operationStats {
	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	return stats
}

func (m *Metrics) finish(operation string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
