package launch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantgate/sentinel/internal/autopsy"
	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/gateway"
	"github.com/quantgate/sentinel/internal/guardian"
	"github.com/quantgate/sentinel/internal/risk"
)

type fakeGateway struct {
	resp   *gateway.Response
	err    error
	orders []gateway.OrderRequest
}

func (f *fakeGateway) OpenOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Response, error) {
	f.orders = append(f.orders, req)
	return f.resp, f.err
}

func testLaunchConfig() config.Launch {
	return config.Launch{
		Symbol:                "EURUSD",
		Side:                  "BUY",
		MinLot:                0.01,
		MaxLot:                1.0,
		RiskCoefficient:       0.1,
		MinApprovalConfidence: 0.80,
	}
}

// writeGoArtifact builds a self-consistent GO admission artifact on disk.
func writeGoArtifact(t *testing.T, confidence float64) string {
	t.Helper()
	dir := t.TempDir()

	art := autopsy.Artifact{
		Decision:           "GO",
		ApprovalConfidence: confidence,
		CriticalErrors:     0,
		P99LatencyMs:       12.5,
		Timestamp:          1700000123.456789,
	}
	art.DecisionHash = autopsy.ComputeDecisionHash(art.Timestamp, art.CriticalErrors, art.P99LatencyMs)

	b, err := json.Marshal(art)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, autopsy.ArtifactFile), b, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, autopsy.ReportFile), []byte("# report\nGO\n"), 0o644))
	return dir
}

func rewriteArtifact(t *testing.T, dir string, mutate func(*autopsy.Artifact)) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, autopsy.ArtifactFile))
	require.NoError(t, err)
	var art autopsy.Artifact
	require.NoError(t, json.Unmarshal(b, &art))
	mutate(&art)
	b, err = json.Marshal(art)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, autopsy.ArtifactFile), b, 0o644))
}

func newTestLauncher(gw OrderGateway) (*Launcher, *risk.CircuitBreaker) {
	cb := risk.NewCircuitBreaker(nil)
	g := guardian.New(cb, config.Guardian{})
	return New(testLaunchConfig(), cb, g, gw), cb
}

func TestHappyPathCanaryLaunch(t *testing.T) {
	gw := &fakeGateway{resp: &gateway.Response{
		Status: gateway.StatusSuccess,
		Data:   map[string]any{"ticket": "T-1001"},
	}}
	l, _ := newTestLauncher(gw)

	require.NoError(t, l.Authenticate(writeGoArtifact(t, 0.95)))

	ticket, err := l.Launch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T-1001", ticket)
	require.True(t, l.IsLaunched())

	require.Len(t, gw.orders, 1)
	order := gw.orders[0]
	require.Equal(t, "EURUSD", order.Symbol)
	require.InDelta(t, 0.1, order.Volume, 1e-9, "canary = max_lot x risk_coefficient")
	require.Equal(t, "canary", order.Comment)
}

func TestTamperedHashFailsAuthentication(t *testing.T) {
	dir := writeGoArtifact(t, 0.95)
	rewriteArtifact(t, dir, func(a *autopsy.Artifact) {
		a.P99LatencyMs = 99.9 // field changed after signing
	})

	l, _ := newTestLauncher(&fakeGateway{})
	err := l.Authenticate(dir)
	require.ErrorIs(t, err, ErrHashMismatch)
	require.False(t, l.IsLaunched())

	_, err = l.Launch(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated, "no order path without authentication")
}

func TestNoGoDecisionFailsAuthentication(t *testing.T) {
	dir := writeGoArtifact(t, 0.95)
	rewriteArtifact(t, dir, func(a *autopsy.Artifact) {
		a.Decision = "NO-GO"
	})

	l, _ := newTestLauncher(&fakeGateway{})
	require.ErrorIs(t, l.Authenticate(dir), ErrNotApproved)
}

func TestLowConfidenceFailsAuthentication(t *testing.T) {
	l, _ := newTestLauncher(&fakeGateway{})
	require.ErrorIs(t, l.Authenticate(writeGoArtifact(t, 0.5)), ErrLowConfidence)
}

func TestMissingReportFailsAuthentication(t *testing.T) {
	dir := writeGoArtifact(t, 0.95)
	require.NoError(t, os.Remove(filepath.Join(dir, autopsy.ReportFile)))

	l, _ := newTestLauncher(&fakeGateway{})
	err := l.Authenticate(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "report")
}

func TestEngagedBreakerBlocksLaunch(t *testing.T) {
	gw := &fakeGateway{resp: &gateway.Response{Status: gateway.StatusSuccess}}
	l, cb := newTestLauncher(gw)

	require.NoError(t, l.Authenticate(writeGoArtifact(t, 0.95)))
	cb.Engage("HEARTBEAT_FAILURE", nil)

	_, err := l.Launch(context.Background())
	require.ErrorIs(t, err, ErrPrecondition)
	require.False(t, l.IsLaunched())
	require.Empty(t, gw.orders, "no order may reach the gateway")
}

func TestFailedLaunchConsumesAuthentication(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway down")}
	l, _ := newTestLauncher(gw)

	require.NoError(t, l.Authenticate(writeGoArtifact(t, 0.95)))
	_, err := l.Launch(context.Background())
	require.Error(t, err)
	require.False(t, l.IsLaunched())

	// Phase 1 must be re-run before another attempt.
	_, err = l.Launch(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRejectedOrderDoesNotSetLaunched(t *testing.T) {
	gw := &fakeGateway{resp: &gateway.Response{Status: gateway.StatusError, Error: "market closed"}}
	l, _ := newTestLauncher(gw)

	require.NoError(t, l.Authenticate(writeGoArtifact(t, 0.95)))
	_, err := l.Launch(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "market closed")
	require.False(t, l.IsLaunched())
}

func TestRiskCoefficientScalingClamps(t *testing.T) {
	l, _ := newTestLauncher(&fakeGateway{})
	require.InDelta(t, 0.1, l.RiskCoefficient(), 1e-9)

	require.InDelta(t, 0.2, l.ScaleUp(), 1e-9)
	for i := 0; i < 20; i++ {
		l.ScaleUp()
	}
	require.InDelta(t, 1.0, l.RiskCoefficient(), 1e-9, "clamped at the ceiling")

	for i := 0; i < 20; i++ {
		l.ScaleDown()
	}
	require.InDelta(t, 0.05, l.RiskCoefficient(), 1e-9, "clamped at the floor")
}

func TestCanarySizeClampsToLotBounds(t *testing.T) {
	l, _ := newTestLauncher(&fakeGateway{})

	require.InDelta(t, 0.05, l.canarySize(0.05), 1e-9)
	require.InDelta(t, 0.01, l.canarySize(0.001), 1e-9, "clamped up to min_lot")
	require.InDelta(t, 1.0, l.canarySize(2.0), 1e-9, "clamped down to max_lot")
}
