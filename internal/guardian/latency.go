package guardian

import (
	"sync"

	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/stats"
)

// LatencyDetector keeps a fixed-size sliding window of recent samples.
// Samples above the spike threshold are counted and logged at warning
// severity; samples above the elevated threshold are logged quietly
// without counting.
type LatencyDetector struct {
	mu         sync.Mutex
	window     []float64 // ms, ring buffer
	idx        int
	filled     bool
	spikes     int
	spikeMs    float64
	elevatedMs float64
}

func NewLatencyDetector(windowSize int, spikeMs, elevatedMs float64) *LatencyDetector {
	if windowSize <= 0 {
		windowSize = 256
	}
	if spikeMs <= 0 {
		spikeMs = 100
	}
	if elevatedMs <= 0 {
		elevatedMs = 50
	}
	return &LatencyDetector{
		window:     make([]float64, windowSize),
		spikeMs:    spikeMs,
		elevatedMs: elevatedMs,
	}
}

func (d *LatencyDetector) Record(ms float64) {
	d.mu.Lock()
	d.window[d.idx] = ms
	d.idx++
	if d.idx == len(d.window) {
		d.idx = 0
		d.filled = true
	}
	if ms > d.spikeMs {
		d.spikes++
	}
	spikes := d.spikes
	d.mu.Unlock()

	observ.Observe("guardian_latency_ms", ms, nil)
	switch {
	case ms > d.spikeMs:
		observ.Warn("latency_spike", map[string]any{"latency_ms": ms, "spike_count": spikes})
	case ms > d.elevatedMs:
		observ.Debug("latency_elevated", map[string]any{"latency_ms": ms})
	}
}

func (d *LatencyDetector) SpikeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spikes
}

// P99 computes the 99th percentile over the current window contents.
func (d *LatencyDetector) P99() float64 {
	d.mu.Lock()
	n := d.idx
	if d.filled {
		n = len(d.window)
	}
	samples := make([]float64, n)
	copy(samples, d.window[:n])
	d.mu.Unlock()

	return stats.Percentile(samples, 99)
}
