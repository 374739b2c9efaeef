package risk

import (
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/observ"
)

// BreakerState is a point-in-time copy of the latch. Metadata is cloned so
// callers can never mutate the breaker's own record.
type BreakerState struct {
	Engaged   bool           `json:"engaged"`
	EngagedAt time.Time      `json:"engaged_at,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CircuitBreaker is the global safety latch shared by every component.
// Two states: safe (initial) and engaged. Engaging is idempotent; only an
// explicit operator Disengage clears it. Both the read and the write take
// the mutex so check-then-act from one caller cannot race an Engage from
// another. The lock is never held across I/O.
type CircuitBreaker struct {
	mu      sync.Mutex
	state   BreakerState
	trigger *TriggerLog // optional durable record of engagements
}

func NewCircuitBreaker(trigger *TriggerLog) *CircuitBreaker {
	return &CircuitBreaker{trigger: trigger}
}

// Engage trips the latch. Re-engaging while already engaged changes
// nothing: the first reason and timestamp stand.
func (cb *CircuitBreaker) Engage(reason string, metadata map[string]any) {
	cb.mu.Lock()
	if cb.state.Engaged {
		cb.mu.Unlock()
		return
	}
	cb.state = BreakerState{
		Engaged:   true,
		EngagedAt: time.Now().UTC(),
		Reason:    reason,
		Metadata:  cloneMeta(metadata),
	}
	st := cb.state
	cb.mu.Unlock()

	observ.Error("circuit_breaker_engaged", map[string]any{
		"reason":   reason,
		"metadata": metadata,
	})
	observ.IncCounter("circuit_breaker_engagements_total", map[string]string{"reason": reason})
	observ.SetGauge("circuit_breaker_engaged", 1, nil)

	if cb.trigger != nil {
		if err := cb.trigger.Append(TriggerEntry{
			TS:     st.EngagedAt,
			Kind:   KindKill,
			Reason: reason,
		}); err != nil {
			observ.Error("trigger_log_append_failed", map[string]any{"error": err.Error()})
		}
	}
}

// IsSafe is the single check every order-submission path performs
// immediately before transmission, and again after any async step.
func (cb *CircuitBreaker) IsSafe() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return !cb.state.Engaged
}

// Disengage clears the latch. Privileged: reachable only from the operator
// CLI and tests, never from an autonomous caller.
func (cb *CircuitBreaker) Disengage() {
	cb.mu.Lock()
	was := cb.state
	cb.state = BreakerState{}
	cb.mu.Unlock()

	if was.Engaged {
		observ.Warn("circuit_breaker_disengaged", map[string]any{
			"previous_reason": was.Reason,
			"engaged_for":     time.Since(was.EngagedAt).String(),
		})
		observ.SetGauge("circuit_breaker_engaged", 0, nil)
	}
}

// State returns a defensive copy.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := cb.state
	st.Metadata = cloneMeta(cb.state.Metadata)
	return st
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
