package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantgate/sentinel/internal/observ"
)

// ErrInvalid wraps every validation failure so callers can distinguish a
// tampered or mistyped config from an I/O problem.
var ErrInvalid = errors.New("invalid config")

// Risk holds the hard limits. A breach of any of these is fatal to the
// session: the circuit breaker engages and stays engaged.
type Risk struct {
	MaxDailyDrawdown      float64 `yaml:"max_daily_drawdown"`       // fraction, e.g. 0.02
	MaxAccountLeverage    float64 `yaml:"max_account_leverage"`     // multiple, e.g. 10
	MaxSinglePositionSize float64 `yaml:"max_single_position_size"` // lots
	KillSwitchMode        string  `yaml:"kill_switch_mode"`         // "engage_only" | "engage_and_flatten"
}

// Alerts holds the soft limits. Each must sit strictly below its hard
// counterpart; a soft breach warns without touching the breaker.
type Alerts struct {
	DrawdownWarning float64 `yaml:"drawdown_warning"`
	LeverageWarning float64 `yaml:"leverage_warning"`
}

type Heartbeat struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	TimeoutMs        int `yaml:"timeout_ms"`
	FailureThreshold int `yaml:"failure_threshold"`
}

type Gateway struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Guardian struct {
	LatencyWindow        int     `yaml:"latency_window"`
	SpikeThresholdMs     float64 `yaml:"spike_threshold_ms"`
	ElevatedThresholdMs  float64 `yaml:"elevated_threshold_ms"`
	MaxLatencySpikes     int     `yaml:"max_latency_spikes"`
	MaxCriticalErrors    int     `yaml:"max_critical_errors"`
	DriftIntervalMinutes int     `yaml:"drift_interval_minutes"`
	DriftScoreThreshold  float64 `yaml:"drift_score_threshold"`
	MaxDriftEvents24h    int     `yaml:"max_drift_events_24h"`
	MetricsHistorySize   int     `yaml:"metrics_history_size"`
}

type Launch struct {
	Symbol                string  `yaml:"symbol"`
	Side                  string  `yaml:"side"`
	MinLot                float64 `yaml:"min_lot"`
	MaxLot                float64 `yaml:"max_lot"`
	RiskCoefficient       float64 `yaml:"risk_coefficient"`
	MinApprovalConfidence float64 `yaml:"min_approval_confidence"`
	ArtifactDir           string  `yaml:"artifact_dir"`
}

// Notify configures the optional Slack operator channel. An empty webhook
// URL disables it; the SENTINEL_SLACK_WEBHOOK env var overrides the file
// so the secret stays out of the config.
type Notify struct {
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	SlackChannel        string `yaml:"slack_channel"`
	DedupeWindowSeconds int    `yaml:"dedupe_window_seconds"`
}

type Root struct {
	Risk           Risk      `yaml:"risk"`
	Alerts         Alerts    `yaml:"alerts"`
	Heartbeat      Heartbeat `yaml:"heartbeat"`
	Gateway        Gateway   `yaml:"gateway"`
	Guardian       Guardian  `yaml:"guardian"`
	Launch         Launch    `yaml:"launch"`
	Notify         Notify    `yaml:"notify"`
	TriggerLogPath string    `yaml:"trigger_log_path"`
	StatusAddr     string    `yaml:"status_addr"`
	LogLevel       string    `yaml:"log_level"`
}

// SafeDefaults is the hard-coded fallback used whenever loading or
// validation fails. Deliberately conservative: tampering with the config
// file must never loosen protection.
func SafeDefaults() Root {
	return Root{
		Risk: Risk{
			MaxDailyDrawdown:      0.02,
			MaxAccountLeverage:    10,
			MaxSinglePositionSize: 1.0,
			KillSwitchMode:        "engage_only",
		},
		Alerts: Alerts{
			DrawdownWarning: 0.005,
			LeverageWarning: 7,
		},
		Heartbeat: Heartbeat{
			IntervalSeconds:  5,
			TimeoutMs:        2000,
			FailureThreshold: 3,
		},
		Gateway: Gateway{
			URL:       "ws://127.0.0.1:8765/exec",
			TimeoutMs: 3000,
		},
		Guardian: Guardian{
			LatencyWindow:        256,
			SpikeThresholdMs:     100,
			ElevatedThresholdMs:  50,
			MaxLatencySpikes:     3,
			MaxCriticalErrors:    5,
			DriftIntervalMinutes: 60,
			DriftScoreThreshold:  0.25,
			MaxDriftEvents24h:    5,
			MetricsHistorySize:   100,
		},
		Launch: Launch{
			Symbol:                "EURUSD",
			Side:                  "BUY",
			MinLot:                0.01,
			MaxLot:                1.0,
			RiskCoefficient:       0.1,
			MinApprovalConfidence: 0.80,
			ArtifactDir:           "data/admission",
		},
		Notify: Notify{
			DedupeWindowSeconds: 300,
		},
		TriggerLogPath: "data/triggers.jsonl",
		StatusAddr:     ":8090",
		LogLevel:       "info",
	}
}

// Load reads and validates the config file. On any failure it returns
// SafeDefaults together with the error, logging the failure prominently;
// protection is never silently disabled by a bad file.
func Load(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		observ.Error("config_load_failed", map[string]any{"path": path, "error": err.Error()})
		return SafeDefaults(), fmt.Errorf("read config: %w", err)
	}

	c := SafeDefaults()
	if err := yaml.Unmarshal(b, &c); err != nil {
		observ.Error("config_parse_failed", map[string]any{"path": path, "error": err.Error()})
		return SafeDefaults(), fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("SENTINEL_SLACK_WEBHOOK"); v != "" {
		c.Notify.SlackWebhookURL = v
	}

	if err := c.validate(); err != nil {
		observ.Error("config_validation_failed", map[string]any{"path": path, "error": err.Error()})
		observ.IncCounter("config_validation_failures_total", nil)
		return SafeDefaults(), err
	}

	return c, nil
}

func (c Root) validate() error {
	r, a := c.Risk, c.Alerts

	if r.MaxDailyDrawdown < 0.001 || r.MaxDailyDrawdown > 0.5 {
		return fmt.Errorf("%w: max_daily_drawdown %.4f outside [0.001, 0.5]", ErrInvalid, r.MaxDailyDrawdown)
	}
	if r.MaxAccountLeverage < 1 || r.MaxAccountLeverage > 20 {
		return fmt.Errorf("%w: max_account_leverage %.2f outside [1, 20]", ErrInvalid, r.MaxAccountLeverage)
	}
	if r.MaxSinglePositionSize <= 0 {
		return fmt.Errorf("%w: max_single_position_size %.2f must be positive", ErrInvalid, r.MaxSinglePositionSize)
	}
	if r.KillSwitchMode != "engage_only" && r.KillSwitchMode != "engage_and_flatten" {
		return fmt.Errorf("%w: kill_switch_mode %q unknown", ErrInvalid, r.KillSwitchMode)
	}

	// Soft limits must sit strictly below their hard counterparts, else a
	// warning could fire after the kill already happened (or never).
	if a.DrawdownWarning <= 0 || a.DrawdownWarning >= r.MaxDailyDrawdown {
		return fmt.Errorf("%w: drawdown_warning %.4f must be in (0, %.4f)", ErrInvalid, a.DrawdownWarning, r.MaxDailyDrawdown)
	}
	if a.LeverageWarning <= 0 || a.LeverageWarning >= r.MaxAccountLeverage {
		return fmt.Errorf("%w: leverage_warning %.2f must be in (0, %.2f)", ErrInvalid, a.LeverageWarning, r.MaxAccountLeverage)
	}

	if c.Heartbeat.IntervalSeconds <= 0 || c.Heartbeat.FailureThreshold <= 0 {
		return fmt.Errorf("%w: heartbeat interval/threshold must be positive", ErrInvalid)
	}
	if c.Gateway.TimeoutMs < 2000 || c.Gateway.TimeoutMs > 5000 {
		return fmt.Errorf("%w: gateway timeout_ms %d outside [2000, 5000]", ErrInvalid, c.Gateway.TimeoutMs)
	}
	if c.Guardian.DriftScoreThreshold <= 0 || c.Guardian.LatencyWindow <= 0 {
		return fmt.Errorf("%w: guardian drift threshold and latency window must be positive", ErrInvalid)
	}
	if c.Launch.MinLot <= 0 || c.Launch.MaxLot < c.Launch.MinLot {
		return fmt.Errorf("%w: launch lot bounds [%.2f, %.2f] invalid", ErrInvalid, c.Launch.MinLot, c.Launch.MaxLot)
	}
	if c.Launch.MinApprovalConfidence < 0 || c.Launch.MinApprovalConfidence > 1 {
		return fmt.Errorf("%w: min_approval_confidence %.2f outside [0, 1]", ErrInvalid, c.Launch.MinApprovalConfidence)
	}
	if c.Notify.DedupeWindowSeconds < 0 {
		return fmt.Errorf("%w: notify dedupe_window_seconds must not be negative", ErrInvalid)
	}

	return nil
}

// GatewayTimeout returns the bounded request/response timeout.
func (c Root) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutMs) * time.Millisecond
}
