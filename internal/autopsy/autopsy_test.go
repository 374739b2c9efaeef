package autopsy

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sig(v int) *int { return &v }

// batch builds n records with a fixed signal-to-log latency.
func batch(n int, latencyMs float64, signal int) []DecisionRecord {
	records := make([]DecisionRecord, n)
	base := 1700000000.0
	for i := range records {
		ts := base + float64(i)
		records[i] = DecisionRecord{
			ID:         fmt.Sprintf("d%04d", i),
			TsSignal:   ts,
			TsLog:      ts + latencyMs/1000,
			Signal:     sig(signal),
			Price:      100,
			Confidence: 0.7,
		}
	}
	return records
}

func TestLatencyAnalyzerFastBatch(t *testing.T) {
	rep := AnalyzeLatency(batch(100, 5, 1))

	require.Equal(t, 100, rep.Total)
	require.Less(t, rep.P99Ms, 100.0)
	require.InDelta(t, 5.0, rep.P99Ms, 0.001)
	require.Zero(t, rep.CriticalCount)
}

func TestLatencyAnalyzerCountsCriticalRecords(t *testing.T) {
	records := batch(80, 5, 1)
	records = append(records, batch(20, 150, 1)...)

	rep := AnalyzeLatency(records)
	require.Equal(t, 100, rep.Total)
	require.Equal(t, 20, rep.CriticalCount)
}

func TestPnLSimulatorAllHoldTradesNothing(t *testing.T) {
	rep := SimulatePnL(batch(100, 5, 0), 10000, 0.5)

	require.Zero(t, rep.TotalTrades)
	require.Equal(t, 10000.0, rep.FinalBalance, "balance must be exactly unchanged")
	require.Zero(t, rep.RealizedPnL)
	require.Zero(t, rep.WinRate)
}

func TestPnLSimulatorPositionFlips(t *testing.T) {
	prices := []struct {
		signal int
		price  float64
	}{
		{1, 100},  // open long
		{0, 105},  // hold, no effect
		{-1, 110}, // close long +10, open short
		{-1, 108}, // same direction, no effect
		{1, 105},  // close short +5, open long
	}

	records := make([]DecisionRecord, len(prices))
	for i, p := range prices {
		records[i] = DecisionRecord{
			TsSignal: float64(i), TsLog: float64(i) + 0.005,
			Signal: sig(p.signal), Price: p.price, Confidence: 0.6,
		}
	}

	rep := SimulatePnL(records, 10000, 0.5)
	require.Equal(t, 2, rep.TotalTrades)
	require.Equal(t, 2, rep.Wins)
	require.InDelta(t, 1.0, rep.WinRate, 1e-9)
	require.InDelta(t, (10-0.5)+(5-0.5), rep.RealizedPnL, 1e-9)
	require.InDelta(t, 10014.0, rep.FinalBalance, 1e-9)
}

func TestPnLSimulatorSkipsInvalidSignals(t *testing.T) {
	records := []DecisionRecord{
		{TsSignal: 0, TsLog: 0.005, Signal: nil, Price: 100},
		{TsSignal: 1, TsLog: 1.005, Signal: sig(5), Price: 110},
	}

	rep := SimulatePnL(records, 10000, 0.5)
	require.Zero(t, rep.TotalTrades)
	require.Equal(t, 10000.0, rep.FinalBalance)
}

func TestDecisionHashIsDeterministicAndFieldSensitive(t *testing.T) {
	ts := 1700000123.456789
	base := ComputeDecisionHash(ts, 0, 42.5)

	require.Equal(t, base, ComputeDecisionHash(ts, 0, 42.5), "same inputs, same hash")
	require.NotEqual(t, base, ComputeDecisionHash(ts+1, 0, 42.5))
	require.NotEqual(t, base, ComputeDecisionHash(ts, 1, 42.5))
	require.NotEqual(t, base, ComputeDecisionHash(ts, 0, 42.501))
	require.Len(t, base, 64)
}

func TestGatekeeperApproval(t *testing.T) {
	now := time.Now()

	approved := Decide(LatencyReport{P99Ms: 40}, 0, now)
	require.True(t, approved.IsApproved)
	require.Empty(t, approved.RejectionReasons)
	require.Equal(t,
		ComputeDecisionHash(approved.Timestamp, 0, 40),
		approved.DecisionHash)

	slow := Decide(LatencyReport{P99Ms: 120}, 0, now)
	require.False(t, slow.IsApproved)
	require.Len(t, slow.RejectionReasons, 1)
	require.Contains(t, slow.RejectionReasons[0], "p99 latency")

	invalid := Decide(LatencyReport{P99Ms: 40}, 3, now)
	require.False(t, invalid.IsApproved)
	require.Contains(t, invalid.RejectionReasons[0], "invalid signal")

	both := Decide(LatencyReport{P99Ms: 120}, 3, now)
	require.Len(t, both.RejectionReasons, 2)
}

func TestDriftAuditorShortBatchIsQuiet(t *testing.T) {
	rep := AuditDrift(batch(30, 5, 1), 50)
	require.Zero(t, rep.Events, "short batches must not false-alarm")
	require.Zero(t, rep.WindowCount)
}

func TestDriftAuditorDetectsSignFlip(t *testing.T) {
	records := batch(100, 5, 1)
	records = append(records, batch(100, 5, -1)...)

	rep := AuditDrift(records, 50)
	require.Equal(t, 4, rep.WindowCount)
	require.Greater(t, rep.SignDistShift, signShiftThreshold)
	require.GreaterOrEqual(t, rep.Events, 1)
	require.LessOrEqual(t, rep.Events, 2, "event count is bounded")
}

func TestDriftAuditorStableBatch(t *testing.T) {
	records := batch(200, 5, 1)
	rep := AuditDrift(records, 50)
	require.Less(t, rep.SignDistShift, signShiftThreshold)
}

func writeShadowLog(t *testing.T, records []DecisionRecord, extraLines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadow.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, r := range records {
		fmt.Fprintf(f, `{"id":%q,"ts_signal":%f,"ts_log":%f,"signal":%d,"price":%f,"confidence":%f}`+"\n",
			r.ID, r.TsSignal, r.TsLog, *r.Signal, r.Price, r.Confidence)
	}
	for _, line := range extraLines {
		fmt.Fprintln(f, line)
	}
	return path
}

func TestReadLogCountsMalformedLines(t *testing.T) {
	path := writeShadowLog(t, batch(10, 5, 1), "not json at all", `{"id":"x"`)

	records, malformed, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, records, 10)
	require.Equal(t, 2, malformed)
}

func TestRunAndArtifactRoundTrip(t *testing.T) {
	path := writeShadowLog(t, batch(120, 5, 1))

	res, err := Run(path, 100000, 0.0001, 50)
	require.NoError(t, err)
	require.Equal(t, "GO", res.Artifact.Decision)
	require.GreaterOrEqual(t, res.Artifact.ApprovalConfidence, 0.8)

	dir := t.TempDir()
	require.NoError(t, WriteArtifact(dir, res))

	loaded, err := LoadArtifact(dir)
	require.NoError(t, err)
	require.Equal(t, res.Artifact, loaded)

	// The loaded artifact self-verifies: the stored hash matches a
	// recomputation from its own embedded fields.
	require.Equal(t,
		ComputeDecisionHash(loaded.Timestamp, loaded.CriticalErrors, loaded.P99LatencyMs),
		loaded.DecisionHash)
}

func TestLoadArtifactRequiresCompanionReport(t *testing.T) {
	path := writeShadowLog(t, batch(120, 5, 1))
	res, err := Run(path, 100000, 0.0001, 50)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteArtifact(dir, res))
	require.NoError(t, os.Remove(filepath.Join(dir, ReportFile)))

	_, err = LoadArtifact(dir)
	require.Error(t, err, "missing report invalidates the evidence")
}
