// Package launch orchestrates the promotion from shadow to live trading:
// authenticate the admission artifact, re-check runtime preconditions,
// then place one deliberately undersized canary order.
package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/autopsy"
	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/gateway"
	"github.com/quantgate/sentinel/internal/guardian"
	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/risk"
)

var (
	ErrNotAuthenticated = errors.New("launch not authenticated")
	ErrHashMismatch     = errors.New("decision hash mismatch")
	ErrNotApproved      = errors.New("admission decision is not GO")
	ErrLowConfidence    = errors.New("approval confidence below minimum")
	ErrPrecondition     = errors.New("launch precondition failed")
)

const (
	coefficientStep = 0.1
	coefficientMin  = 0.05
	coefficientMax  = 1.0
)

// OrderGateway is the slice of the gateway client the launcher needs.
type OrderGateway interface {
	OpenOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Response, error)
}

// Launcher runs the three-phase, fail-closed launch sequence. Nothing is
// launched until authentication and validation both pass, and a failed
// attempt leaves no side effects beyond its log lines.
type Launcher struct {
	cfg      config.Launch
	breaker  *risk.CircuitBreaker
	guardian *guardian.Guardian
	gateway  OrderGateway

	mu            sync.Mutex
	riskCoeff     float64
	authenticated bool
	launched      bool
	ticket        string
}

func New(cfg config.Launch, breaker *risk.CircuitBreaker, g *guardian.Guardian, gw OrderGateway) *Launcher {
	coeff := cfg.RiskCoefficient
	if coeff <= 0 {
		coeff = 0.1
	}
	return &Launcher{
		cfg:       cfg,
		breaker:   breaker,
		guardian:  g,
		gateway:   gw,
		riskCoeff: coeff,
	}
}

// Authenticate loads the admission artifact, recomputes the decision hash
// from the artifact's own embedded fields, and requires it to match the
// stored hash, the verdict to be GO, and confidence to clear the minimum.
// Any mismatch aborts with the specific failing field named.
func (l *Launcher) Authenticate(artifactDir string) error {
	art, err := autopsy.LoadArtifact(artifactDir)
	if err != nil {
		observ.Error("launch_auth_failed", map[string]any{"field": "artifact", "error": err.Error()})
		return fmt.Errorf("load admission evidence: %w", err)
	}

	recomputed := autopsy.ComputeDecisionHash(art.Timestamp, art.CriticalErrors, art.P99LatencyMs)
	if recomputed != art.DecisionHash {
		observ.Error("launch_auth_failed", map[string]any{
			"field":      "decision_hash",
			"stored":     art.DecisionHash,
			"recomputed": recomputed,
		})
		return fmt.Errorf("%w: stored %s, recomputed %s", ErrHashMismatch, art.DecisionHash, recomputed)
	}
	if art.Decision != "GO" {
		observ.Error("launch_auth_failed", map[string]any{"field": "decision", "value": art.Decision})
		return fmt.Errorf("%w: decision is %q", ErrNotApproved, art.Decision)
	}
	minConf := l.cfg.MinApprovalConfidence
	if minConf <= 0 {
		minConf = 0.80
	}
	if art.ApprovalConfidence < minConf {
		observ.Error("launch_auth_failed", map[string]any{
			"field":   "approval_confidence",
			"value":   art.ApprovalConfidence,
			"minimum": minConf,
		})
		return fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, art.ApprovalConfidence, minConf)
	}

	l.mu.Lock()
	l.authenticated = true
	l.mu.Unlock()

	observ.Log("launch_authenticated", map[string]any{
		"decision_hash": art.DecisionHash,
		"confidence":    art.ApprovalConfidence,
	})
	return nil
}

// Launch validates preconditions and submits the canary order. All or
// nothing: the launched flag is set only after the gateway accepted the
// order, and a failed attempt requires re-running Authenticate.
func (l *Launcher) Launch(ctx context.Context) (string, error) {
	l.mu.Lock()
	if !l.authenticated {
		l.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	// Each attempt consumes the authentication; fail-closed on any exit.
	l.authenticated = false
	coeff := l.riskCoeff
	l.mu.Unlock()

	volume := l.canarySize(coeff)
	if err := l.validatePreconditions(volume); err != nil {
		return "", err
	}

	// Breaker state may have changed during validation; re-check right
	// before transmission, outside any lock held across I/O.
	if !l.breaker.IsSafe() {
		return "", fmt.Errorf("%w: circuit breaker engaged before transmission", ErrPrecondition)
	}

	resp, err := l.gateway.OpenOrder(ctx, gateway.OrderRequest{
		Symbol:  l.cfg.Symbol,
		Volume:  volume,
		Side:    l.cfg.Side,
		Type:    "MARKET",
		Comment: "canary",
	})
	if err != nil {
		observ.Error("canary_order_failed", map[string]any{"error": err.Error()})
		return "", fmt.Errorf("submit canary order: %w", err)
	}
	if resp.Status != gateway.StatusSuccess {
		observ.Error("canary_order_rejected", map[string]any{"status": string(resp.Status), "error": resp.Error})
		return "", fmt.Errorf("canary order rejected: %s %s", resp.Status, resp.Error)
	}

	ticket := ""
	if resp.Data != nil {
		if t, ok := resp.Data["ticket"].(string); ok {
			ticket = t
		} else if t, ok := resp.Data["ticket"].(float64); ok {
			ticket = fmt.Sprintf("%.0f", t)
		}
	}

	l.mu.Lock()
	l.launched = true
	l.ticket = ticket
	l.mu.Unlock()

	observ.Log("canary_order_placed", map[string]any{
		"symbol":    l.cfg.Symbol,
		"volume":    volume,
		"ticket":    ticket,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	observ.IncCounter("canary_orders_total", nil)
	return ticket, nil
}

func (l *Launcher) validatePreconditions(volume float64) error {
	if !l.breaker.IsSafe() {
		st := l.breaker.State()
		return fmt.Errorf("%w: circuit breaker engaged (%s)", ErrPrecondition, st.Reason)
	}
	if halt, reason := l.guardian.ShouldHalt(); halt {
		return fmt.Errorf("%w: guardian unhealthy (%s)", ErrPrecondition, reason)
	}
	if volume < l.cfg.MinLot || volume > l.cfg.MaxLot {
		return fmt.Errorf("%w: canary size %.4f outside [%.4f, %.4f]", ErrPrecondition, volume, l.cfg.MinLot, l.cfg.MaxLot)
	}
	return nil
}

// canarySize scales the maximum lot by the risk coefficient and clamps to
// the configured lot bounds.
func (l *Launcher) canarySize(coeff float64) float64 {
	size := l.cfg.MaxLot * coeff
	if size < l.cfg.MinLot {
		size = l.cfg.MinLot
	}
	if size > l.cfg.MaxLot {
		size = l.cfg.MaxLot
	}
	return size
}

// ScaleUp raises the risk coefficient one step. The coefficient moves only
// through these explicit calls, never on its own.
func (l *Launcher) ScaleUp() float64 {
	return l.adjustCoeff(coefficientStep)
}

// ScaleDown lowers the risk coefficient one step.
func (l *Launcher) ScaleDown() float64 {
	return l.adjustCoeff(-coefficientStep)
}

func (l *Launcher) adjustCoeff(delta float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.riskCoeff += delta
	if l.riskCoeff < coefficientMin {
		l.riskCoeff = coefficientMin
	}
	if l.riskCoeff > coefficientMax {
		l.riskCoeff = coefficientMax
	}
	observ.SetGauge("launch_risk_coefficient", l.riskCoeff, nil)
	return l.riskCoeff
}

func (l *Launcher) RiskCoefficient() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.riskCoeff
}

func (l *Launcher) IsLaunched() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

func (l *Launcher) Ticket() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticket
}
