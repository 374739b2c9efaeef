// Package guardian aggregates latency, drift, and error signals from a
// running session into a single halt decision.
package guardian

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/risk"
)

type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)

// Metrics is a point-in-time snapshot of every detector plus the halt
// decision derived from them.
type Metrics struct {
	Timestamp         time.Time `json:"timestamp"`
	LatencySpikeCount int       `json:"latency_spike_count"`
	DriftEvents24h    int       `json:"drift_events_24h"`
	CriticalErrors    int       `json:"critical_errors"`
	P99LatencyMs      float64   `json:"p99_latency_ms"`
	ShouldHalt        bool      `json:"should_halt"`
	HaltReason        string    `json:"halt_reason,omitempty"`
	SystemHealth      Health    `json:"system_health"`
}

// Guardian combines three independent detectors and the breaker into one
// halt decision, evaluated in a fixed priority order.
type Guardian struct {
	breaker *risk.CircuitBreaker
	latency *LatencyDetector
	drift   *DriftMonitor

	maxSpikes int
	maxErrors int

	mu          sync.Mutex
	errorCount  int
	history     []Metrics
	historySize int
}

func New(breaker *risk.CircuitBreaker, cfg config.Guardian) *Guardian {
	maxSpikes := cfg.MaxLatencySpikes
	if maxSpikes <= 0 {
		maxSpikes = 3
	}
	maxErrors := cfg.MaxCriticalErrors
	if maxErrors <= 0 {
		maxErrors = 5
	}
	historySize := cfg.MetricsHistorySize
	if historySize <= 0 {
		historySize = 100
	}
	return &Guardian{
		breaker: breaker,
		latency: NewLatencyDetector(cfg.LatencyWindow, cfg.SpikeThresholdMs, cfg.ElevatedThresholdMs),
		drift: NewDriftMonitor(
			time.Duration(cfg.DriftIntervalMinutes)*time.Minute,
			cfg.DriftScoreThreshold,
			cfg.MaxDriftEvents24h,
		),
		maxSpikes:   maxSpikes,
		maxErrors:   maxErrors,
		historySize: historySize,
	}
}

// RecordLatency feeds one observed order-path latency into the window.
func (g *Guardian) RecordLatency(ms float64) {
	g.latency.Record(ms)
}

// RecordDriftScore feeds one distributional-shift score; the drift monitor
// decides whether its time gate lets the score count.
func (g *Guardian) RecordDriftScore(score float64) {
	g.drift.Observe(score)
}

// RecordCriticalError counts one externally-reported critical error.
func (g *Guardian) RecordCriticalError() {
	g.mu.Lock()
	g.errorCount++
	count := g.errorCount
	g.mu.Unlock()
	observ.IncCounter("guardian_critical_errors_total", nil)
	observ.SetGauge("guardian_critical_errors", float64(count), nil)
}

// ShouldHalt reports whether the trading loop must stop, and why. Each
// condition is independently sufficient; the reason is the first true
// condition in priority order: breaker, latency spikes, errors, drift.
func (g *Guardian) ShouldHalt() (bool, string) {
	if !g.breaker.IsSafe() {
		st := g.breaker.State()
		return true, fmt.Sprintf("circuit breaker engaged: %s", st.Reason)
	}

	if spikes := g.latency.SpikeCount(); spikes > g.maxSpikes {
		return true, fmt.Sprintf("latency spikes %d exceed limit %d", spikes, g.maxSpikes)
	}

	g.mu.Lock()
	errors := g.errorCount
	g.mu.Unlock()
	if errors > g.maxErrors {
		return true, fmt.Sprintf("critical errors %d exceed limit %d", errors, g.maxErrors)
	}

	if g.drift.IsCritical() {
		return true, fmt.Sprintf("drift events %d in 24h exceed limit", g.drift.Events24h())
	}

	return false, ""
}

// Snapshot recomputes the full metric set, appends it to the bounded
// history buffer, and returns it.
func (g *Guardian) Snapshot() Metrics {
	halt, reason := g.ShouldHalt()

	g.mu.Lock()
	errors := g.errorCount
	g.mu.Unlock()

	m := Metrics{
		Timestamp:         time.Now().UTC(),
		LatencySpikeCount: g.latency.SpikeCount(),
		DriftEvents24h:    g.drift.Events24h(),
		CriticalErrors:    errors,
		P99LatencyMs:      g.latency.P99(),
		ShouldHalt:        halt,
		HaltReason:        reason,
	}

	switch {
	case halt:
		m.SystemHealth = HealthCritical
	case m.LatencySpikeCount > 0 || m.DriftEvents24h > 0 || m.CriticalErrors > 0:
		m.SystemHealth = HealthWarning
	default:
		m.SystemHealth = HealthHealthy
	}

	g.mu.Lock()
	g.history = append(g.history, m)
	if len(g.history) > g.historySize {
		g.history = g.history[len(g.history)-g.historySize:]
	}
	g.mu.Unlock()

	return m
}

// History returns a copy of the recorded snapshots, oldest first.
func (g *Guardian) History() []Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Metrics, len(g.history))
	copy(out, g.history)
	return out
}
