package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/risk"
)

type Quality string

const (
	QualityHealthy  Quality = "HEALTHY"  // latency < 50ms
	QualityDegraded Quality = "DEGRADED" // latency >= 50ms
)

const (
	healthyBelow  = 50 * time.Millisecond
	degradedBelow = 100 * time.Millisecond
)

// Pinger probes the execution gateway once. *gateway.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Metrics is a value snapshot of probe counters and latency aggregates.
type Metrics struct {
	Total               int64     `json:"total"`
	Success             int64     `json:"success"`
	Failure             int64     `json:"failure"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	MinLatencyMs        float64   `json:"min_latency_ms"`
	MaxLatencyMs        float64   `json:"max_latency_ms"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Quality             Quality   `json:"quality"`
}

// Monitor probes the gateway on a fixed interval. After failure_threshold
// consecutive failed probes it engages the breaker and stops its loop; it
// does not keep hammering a link it just declared dead.
type Monitor struct {
	pinger    Pinger
	breaker   *risk.CircuitBreaker
	interval  time.Duration
	timeout   time.Duration
	threshold int64

	mu         sync.Mutex
	m          Metrics
	latencySum float64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(p Pinger, breaker *risk.CircuitBreaker, cfg config.Heartbeat) *Monitor {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	threshold := int64(cfg.FailureThreshold)
	if threshold <= 0 {
		threshold = 3
	}
	return &Monitor{
		pinger:    p,
		breaker:   breaker,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
	}
}

// Start launches the probe loop. The loop exits on context cancellation,
// Stop, or after it engages the breaker.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.probe(ctx) {
					return
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// probe executes one ping cycle. Returns false when the loop must stop.
func (m *Monitor) probe(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	latency, err := m.pinger.Ping(pingCtx)
	cancel()

	if err != nil {
		return m.recordFailure(err)
	}
	m.recordSuccess(latency)
	return true
}

func (m *Monitor) recordSuccess(latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	m.mu.Lock()
	m.m.Total++
	m.m.Success++
	m.m.ConsecutiveFailures = 0
	m.m.LastSuccess = time.Now().UTC()
	m.latencySum += ms
	m.m.AvgLatencyMs = m.latencySum / float64(m.m.Success)
	if m.m.MinLatencyMs == 0 || ms < m.m.MinLatencyMs {
		m.m.MinLatencyMs = ms
	}
	if ms > m.m.MaxLatencyMs {
		m.m.MaxLatencyMs = ms
	}
	quality := QualityHealthy
	if latency >= healthyBelow {
		quality = QualityDegraded
	}
	m.m.Quality = quality
	m.mu.Unlock()

	observ.Observe("heartbeat_latency_ms", ms, nil)
	observ.SetGauge("heartbeat_consecutive_failures", 0, nil)

	switch {
	case latency < healthyBelow:
		observ.Debug("heartbeat_ok", map[string]any{"latency_ms": ms, "quality": string(QualityHealthy)})
	case latency < degradedBelow:
		observ.Log("heartbeat_degraded", map[string]any{"latency_ms": ms, "quality": string(QualityDegraded)})
	default:
		observ.Warn("heartbeat_slow", map[string]any{"latency_ms": ms, "quality": string(QualityDegraded)})
	}
}

// recordFailure increments the failure counters and, at the threshold,
// engages the breaker. Returns false once the breaker was engaged.
func (m *Monitor) recordFailure(err error) bool {
	m.mu.Lock()
	m.m.Total++
	m.m.Failure++
	m.m.ConsecutiveFailures++
	m.m.LastFailure = time.Now().UTC()
	consecutive := m.m.ConsecutiveFailures
	m.mu.Unlock()

	observ.Warn("heartbeat_failed", map[string]any{
		"error":                err.Error(),
		"consecutive_failures": consecutive,
	})
	observ.IncCounter("heartbeat_failures_total", nil)
	observ.SetGauge("heartbeat_consecutive_failures", float64(consecutive), nil)

	if consecutive >= m.threshold {
		m.breaker.Engage("HEARTBEAT_FAILURE", map[string]any{
			"consecutive_failures": consecutive,
			"threshold":            m.threshold,
		})
		return false
	}
	return true
}

// Snapshot returns a defensive copy of the metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m
}

// Reset clears counters and aggregates. Test/operator use only.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m = Metrics{}
	m.latencySum = 0
}
