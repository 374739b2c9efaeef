package guardian

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantgate/sentinel/internal/observ"
)

// DriftMonitor accepts PSI-style distributional-shift scores. Evaluation
// is gated to at most once per interval; a score above the threshold is a
// drift event kept in a rolling 24h window, and too many events inside
// that window makes drift critical.
type DriftMonitor struct {
	mu        sync.Mutex
	gate      *rate.Limiter
	threshold float64
	maxEvents int
	events    []time.Time

	now func() time.Time // injectable for tests
}

func NewDriftMonitor(interval time.Duration, threshold float64, maxEvents int) *DriftMonitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if threshold <= 0 {
		threshold = 0.25
	}
	if maxEvents <= 0 {
		maxEvents = 5
	}
	return &DriftMonitor{
		gate:      rate.NewLimiter(rate.Every(interval), 1),
		threshold: threshold,
		maxEvents: maxEvents,
		now:       time.Now,
	}
}

// Observe evaluates one drift score. Returns true when the score was
// actually evaluated (the time gate allowed it) and crossed the threshold.
// Calls inside the gate interval are dropped without evaluation.
func (d *DriftMonitor) Observe(score float64) bool {
	if !d.gate.Allow() {
		return false
	}
	observ.SetGauge("drift_score", score, nil)

	if score <= d.threshold {
		return false
	}

	d.mu.Lock()
	now := d.now()
	d.events = append(d.events, now)
	d.prune(now)
	count := len(d.events)
	d.mu.Unlock()

	observ.Warn("drift_event", map[string]any{
		"score":      score,
		"threshold":  d.threshold,
		"events_24h": count,
	})
	observ.IncCounter("drift_events_total", nil)
	return true
}

// Events24h returns the number of drift events in the rolling 24h window.
func (d *DriftMonitor) Events24h() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(d.now())
	return len(d.events)
}

// IsCritical reports whether the rolling window holds more events than the
// configured maximum.
func (d *DriftMonitor) IsCritical() bool {
	return d.Events24h() > d.maxEvents
}

// prune drops events older than 24h. Must hold d.mu.
func (d *DriftMonitor) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := d.events[:0]
	for _, t := range d.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.events = kept
}
