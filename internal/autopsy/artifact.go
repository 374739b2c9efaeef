package autopsy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantgate/sentinel/internal/observ"
)

const (
	ArtifactFile = "admission.json"
	ReportFile   = "admission_report.md"
)

// Artifact is the machine-readable admission record. It embeds every
// field the hash covers so a verifier needs nothing else.
type Artifact struct {
	Decision           string  `json:"decision"` // "GO" | "NO-GO"
	DecisionHash       string  `json:"decision_hash"`
	ApprovalConfidence float64 `json:"approval_confidence"` // [0, 1]
	CriticalErrors     int     `json:"critical_errors"`
	P99LatencyMs       float64 `json:"p99_latency_ms"`
	Timestamp          float64 `json:"timestamp"`
}

// Result bundles everything one autopsy run produced.
type Result struct {
	Records  int
	Latency  LatencyReport
	PnL      PnLReport
	Drift    DriftReport
	Decision GatekeepingDecision
	Artifact Artifact
}

// Run executes the full autopsy over a shadow log: latency, PnL replay,
// drift audit, gatekeeping, and artifact assembly.
func Run(logPath string, initialBalance, slippage float64, driftWindow int) (Result, error) {
	records, malformed, err := ReadLog(logPath)
	if err != nil {
		return Result{}, err
	}

	res := Result{Records: len(records)}
	res.Latency = AnalyzeLatency(records)
	res.PnL = SimulatePnL(records, initialBalance, slippage)
	res.Drift = AuditDrift(records, driftWindow)

	criticalErrors := CountCriticalErrors(records) + malformed
	res.Decision = Decide(res.Latency, criticalErrors, time.Now())

	res.Artifact = Artifact{
		Decision:           verdict(res.Decision.IsApproved),
		DecisionHash:       res.Decision.DecisionHash,
		ApprovalConfidence: approvalConfidence(res.Decision, res.Drift),
		CriticalErrors:     res.Decision.CriticalErrors,
		P99LatencyMs:       res.Decision.P99LatencyMs,
		Timestamp:          res.Decision.Timestamp,
	}

	observ.Log("autopsy_complete", map[string]any{
		"records":         res.Records,
		"decision":        res.Artifact.Decision,
		"confidence":      res.Artifact.ApprovalConfidence,
		"p99_latency_ms":  res.Latency.P99Ms,
		"critical_errors": criticalErrors,
		"drift_events":    res.Drift.Events,
	})
	return res, nil
}

func verdict(approved bool) string {
	if approved {
		return "GO"
	}
	return "NO-GO"
}

// approvalConfidence grades how far inside the admission bars the run
// landed: full marks at zero latency and no drift, shrinking as p99
// approaches the bar and per drift event. A NO-GO is always zero.
func approvalConfidence(d GatekeepingDecision, drift DriftReport) float64 {
	if !d.IsApproved {
		return 0
	}
	c := 1.0
	c -= (d.P99LatencyMs / criticalLatencyMs) * 0.2
	c -= 0.05 * float64(drift.Events)
	if c < 0 {
		c = 0
	}
	return c
}

// WriteArtifact persists both halves of the admission evidence: the
// machine-readable record and the companion human-readable report. The
// launcher requires both.
func WriteArtifact(dir string, res Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	b, err := json.MarshalIndent(res.Artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ArtifactFile), b, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ReportFile), []byte(renderReport(res)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadArtifact reads the admission record back and verifies the companion
// report exists and is non-empty; a missing report invalidates the
// evidence even if the JSON is intact.
func LoadArtifact(dir string) (Artifact, error) {
	var a Artifact
	b, err := os.ReadFile(filepath.Join(dir, ArtifactFile))
	if err != nil {
		return a, fmt.Errorf("read admission artifact: %w", err)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("parse admission artifact: %w", err)
	}

	info, err := os.Stat(filepath.Join(dir, ReportFile))
	if err != nil {
		return a, fmt.Errorf("companion report missing: %w", err)
	}
	if info.Size() == 0 {
		return a, fmt.Errorf("companion report %s is empty", ReportFile)
	}
	return a, nil
}

func renderReport(res Result) string {
	var b strings.Builder
	ts := time.Unix(0, int64(res.Decision.Timestamp*1e9)).UTC()

	fmt.Fprintf(&b, "# Shadow Autopsy Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Verdict: %s\n\n", res.Artifact.Decision)
	fmt.Fprintf(&b, "- approval confidence: %.2f\n", res.Artifact.ApprovalConfidence)
	fmt.Fprintf(&b, "- decision hash: `%s`\n\n", res.Artifact.DecisionHash)

	fmt.Fprintf(&b, "## Latency\n\n")
	fmt.Fprintf(&b, "- records analyzed: %d\n", res.Latency.Total)
	fmt.Fprintf(&b, "- p95: %.1f ms\n", res.Latency.P95Ms)
	fmt.Fprintf(&b, "- p99: %.1f ms\n", res.Latency.P99Ms)
	fmt.Fprintf(&b, "- critical (>%.0f ms): %d\n\n", criticalLatencyMs, res.Latency.CriticalCount)

	fmt.Fprintf(&b, "## Simulated PnL (position-flip replay)\n\n")
	fmt.Fprintf(&b, "- trades: %d\n", res.PnL.TotalTrades)
	fmt.Fprintf(&b, "- win rate: %.1f%%\n", res.PnL.WinRate*100)
	fmt.Fprintf(&b, "- realized: %.2f (balance %.2f -> %.2f)\n\n", res.PnL.RealizedPnL, res.PnL.InitialBalance, res.PnL.FinalBalance)

	fmt.Fprintf(&b, "## Drift\n\n")
	fmt.Fprintf(&b, "- windows: %d\n", res.Drift.WindowCount)
	fmt.Fprintf(&b, "- confidence entropy variance: %.4f\n", res.Drift.EntropyVariance)
	fmt.Fprintf(&b, "- sign distribution shift: %.4f\n", res.Drift.SignDistShift)
	fmt.Fprintf(&b, "- events: %d\n\n", res.Drift.Events)

	if len(res.Decision.RejectionReasons) > 0 {
		fmt.Fprintf(&b, "## Rejections\n\n")
		for _, r := range res.Decision.RejectionReasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
