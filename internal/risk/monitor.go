package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/observ"
)

// Monitor consumes per-tick account updates and enforces the configured
// limits. Hard breaches engage the shared breaker; soft breaches only log
// an alert. Hard and soft checks for the same metric are mutually
// exclusive within a tick.
type Monitor struct {
	mu      sync.Mutex
	hard    config.Risk
	soft    config.Alerts
	breaker *CircuitBreaker
	trigger *TriggerLog

	state       AccountState
	peakBalance float64 // high-water mark, never decreases

	// Edge tracking so a sustained breach logs once, not once per tick.
	hardFired  map[string]bool
	softActive map[string]bool
}

func NewMonitor(hard config.Risk, soft config.Alerts, breaker *CircuitBreaker, trigger *TriggerLog, startingBalance float64) *Monitor {
	return &Monitor{
		hard:        hard,
		soft:        soft,
		breaker:     breaker,
		trigger:     trigger,
		peakBalance: startingBalance,
		hardFired:   map[string]bool{},
		softActive:  map[string]bool{},
		state: AccountState{
			Timestamp:  time.Now().UTC(),
			Balance:    startingBalance,
			AlertLevel: AlertNormal,
		},
	}
}

// MonitorTick folds the tick into AccountState, recomputes the derived
// risk metrics against the peak-balance watermark, then evaluates limits
// in a fixed order: hard drawdown, hard leverage, then the soft tiers.
func (m *Monitor) MonitorTick(t Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.state
	s.Timestamp = t.Timestamp
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	s.Balance += t.BalanceDelta
	s.ClosedPnL += t.BalanceDelta
	s.OpenPnL = t.OpenPnL
	s.TotalPnL = s.ClosedPnL + s.OpenPnL
	s.PositionCount = t.PositionCount
	s.TotalExposure = t.TotalExposure

	if s.Balance > m.peakBalance {
		m.peakBalance = s.Balance
	}
	s.Drawdown = m.peakBalance - s.Balance
	if s.Drawdown < 0 {
		s.Drawdown = 0
	}
	s.DrawdownPct = 0
	if m.peakBalance > 0 {
		s.DrawdownPct = s.Drawdown / m.peakBalance
	}
	s.Leverage = 0
	if s.Balance > 0 {
		s.Leverage = s.TotalExposure / s.Balance
	}

	observ.SetGauge("account_balance", s.Balance, nil)
	observ.SetGauge("account_drawdown_pct", s.DrawdownPct, nil)
	observ.SetGauge("account_leverage", s.Leverage, nil)

	level := AlertNormal

	m.checkMetric("drawdown", s.DrawdownPct, m.hard.MaxDailyDrawdown, m.soft.DrawdownWarning, &level)
	m.checkMetric("leverage", s.Leverage, m.hard.MaxAccountLeverage, m.soft.LeverageWarning, &level)

	s.AlertLevel = level
}

// checkMetric runs the hard check first; the soft check only runs when the
// hard one did not fire. Returns true on a hard breach.
func (m *Monitor) checkMetric(metric string, value, hardLimit, softLimit float64, level *AlertLevel) bool {
	if value >= hardLimit {
		*level = AlertCritical
		if m.hardFired[metric] {
			return true
		}
		m.hardFired[metric] = true
		reason := fmt.Sprintf("%s %.4f breached hard limit %.4f", metric, value, hardLimit)
		m.breaker.Engage(fmt.Sprintf("RISK_LIMIT_%s", metric), map[string]any{
			"metric": metric,
			"value":  value,
			"limit":  hardLimit,
		})
		m.appendTrigger(KindKill, metric, value, hardLimit, reason)
		observ.Error("risk_hard_breach", map[string]any{"metric": metric, "value": value, "limit": hardLimit})
		observ.IncCounter("risk_breaches_total", map[string]string{"metric": metric, "kind": "hard"})
		return true
	}
	if value >= softLimit {
		if *level != AlertCritical {
			*level = AlertWarning
		}
		if m.softActive[metric] {
			return false
		}
		m.softActive[metric] = true
		reason := fmt.Sprintf("%s %.4f above warning level %.4f", metric, value, softLimit)
		m.appendTrigger(KindAlert, metric, value, softLimit, reason)
		observ.Warn("risk_soft_breach", map[string]any{"metric": metric, "value": value, "limit": softLimit})
		observ.IncCounter("risk_breaches_total", map[string]string{"metric": metric, "kind": "soft"})
		return false
	}
	m.softActive[metric] = false
	return false
}

func (m *Monitor) appendTrigger(kind TriggerKind, metric string, value, limit float64, reason string) {
	if m.trigger == nil {
		return
	}
	if err := m.trigger.Append(TriggerEntry{
		Kind:   kind,
		Metric: metric,
		Value:  value,
		Limit:  limit,
		Reason: reason,
	}); err != nil {
		observ.Error("trigger_log_append_failed", map[string]any{"error": err.Error()})
	}
}

// ValidateOrder gates a single order independently of tick processing.
// The breaker check comes first: once engaged, nothing passes regardless
// of order content.
func (m *Monitor) ValidateOrder(symbol string, volume float64) (bool, string) {
	if !m.breaker.IsSafe() {
		st := m.breaker.State()
		return false, fmt.Sprintf("rejected: circuit breaker engaged (%s)", st.Reason)
	}
	if symbol == "" {
		return false, "rejected: order has no symbol"
	}
	if volume <= 0 {
		return false, fmt.Sprintf("rejected: volume %.4f must be positive", volume)
	}
	m.mu.Lock()
	maxSize := m.hard.MaxSinglePositionSize
	m.mu.Unlock()
	if volume > maxSize {
		return false, fmt.Sprintf("rejected: volume %.4f exceeds max single position size %.4f", volume, maxSize)
	}
	return true, ""
}

// Snapshot returns a defensive copy of the account state.
func (m *Monitor) Snapshot() AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PeakBalance exposes the watermark for reporting.
func (m *Monitor) PeakBalance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakBalance
}
