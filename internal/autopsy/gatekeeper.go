package autopsy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quantgate/sentinel/internal/observ"
)

// GatekeepingDecision is the admission verdict for one autopsy run. The
// hash covers exactly the material inputs (timestamp, critical errors,
// p99 latency) so a downstream verifier can recompute it from the
// decision's own fields without the record set.
type GatekeepingDecision struct {
	IsApproved       bool     `json:"is_approved"`
	CriticalErrors   int      `json:"critical_errors"`
	P99LatencyMs     float64  `json:"p99_latency_ms"`
	RejectionReasons []string `json:"rejection_reasons"`
	DecisionHash     string   `json:"decision_hash"`
	Timestamp        float64  `json:"timestamp"` // epoch seconds
}

// ComputeDecisionHash is the canonical digest over the decision's material
// inputs. Any change to one input changes the hash.
func ComputeDecisionHash(timestamp float64, criticalErrors int, p99LatencyMs float64) string {
	payload := fmt.Sprintf("%.6f|%d|%.3f", timestamp, criticalErrors, p99LatencyMs)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Decide aggregates the analyzer outputs into the GO/NO-GO verdict.
// criticalErrors counts records with a null/invalid signal plus malformed
// log lines; approval requires p99 under the critical latency bar and
// zero critical errors.
func Decide(latency LatencyReport, criticalErrors int, now time.Time) GatekeepingDecision {
	d := GatekeepingDecision{
		CriticalErrors: criticalErrors,
		P99LatencyMs:   latency.P99Ms,
		Timestamp:      float64(now.UnixNano()) / 1e9,
	}

	if latency.P99Ms >= criticalLatencyMs {
		d.RejectionReasons = append(d.RejectionReasons,
			fmt.Sprintf("p99 latency %.1fms is at or above the %.0fms bar", latency.P99Ms, criticalLatencyMs))
	}
	if criticalErrors > 0 {
		d.RejectionReasons = append(d.RejectionReasons,
			fmt.Sprintf("%d decision(s) had a missing or invalid signal", criticalErrors))
	}

	d.IsApproved = len(d.RejectionReasons) == 0
	d.DecisionHash = ComputeDecisionHash(d.Timestamp, d.CriticalErrors, d.P99LatencyMs)

	verdict := "NO-GO"
	if d.IsApproved {
		verdict = "GO"
	}
	observ.Log("gatekeeping_decision", map[string]any{
		"verdict":         verdict,
		"critical_errors": d.CriticalErrors,
		"p99_latency_ms":  d.P99LatencyMs,
		"rejections":      d.RejectionReasons,
	})
	return d
}

// CountCriticalErrors counts records whose signal is null or out of range.
func CountCriticalErrors(records []DecisionRecord) int {
	n := 0
	for _, r := range records {
		if !r.ValidSignal() {
			n++
		}
	}
	return n
}
