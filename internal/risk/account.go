package risk

import "time"

type AlertLevel string

const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AccountState is owned exclusively by the Monitor and updated on every
// tick. Other components only ever see value copies via Snapshot.
type AccountState struct {
	Timestamp     time.Time  `json:"timestamp"`
	Balance       float64    `json:"balance"`
	OpenPnL       float64    `json:"open_pnl"`
	ClosedPnL     float64    `json:"closed_pnl"`
	TotalPnL      float64    `json:"total_pnl"`
	PositionCount int        `json:"position_count"`
	TotalExposure float64    `json:"total_exposure"`
	Leverage      float64    `json:"leverage"`
	Drawdown      float64    `json:"drawdown"`
	DrawdownPct   float64    `json:"drawdown_pct"`
	AlertLevel    AlertLevel `json:"alert_level"`
}

// Tick is one per-tick market/account update from the execution side.
type Tick struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PositionCount int       `json:"position_count"`
	TotalExposure float64   `json:"total_exposure"`
	BalanceDelta  float64   `json:"balance_delta"` // realized PnL impact of this tick
	OpenPnL       float64   `json:"open_pnl"`
}
