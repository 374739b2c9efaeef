package autopsy

import "github.com/quantgate/sentinel/internal/stats"

// criticalLatencyMs is the admission bar: a decision that took longer than
// this from signal to log would have missed its fill window live.
const criticalLatencyMs = 100.0

type LatencyReport struct {
	Total         int     `json:"total"`
	P95Ms         float64 `json:"p95_ms"`
	P99Ms         float64 `json:"p99_ms"`
	CriticalCount int     `json:"critical_count"` // records above criticalLatencyMs
}

// AnalyzeLatency computes latency percentiles over the whole batch and
// counts records above the critical threshold.
func AnalyzeLatency(records []DecisionRecord) LatencyReport {
	rep := LatencyReport{Total: len(records)}
	if len(records) == 0 {
		return rep
	}

	latencies := make([]float64, 0, len(records))
	for _, r := range records {
		ms := r.LatencyMs()
		latencies = append(latencies, ms)
		if ms > criticalLatencyMs {
			rep.CriticalCount++
		}
	}

	rep.P95Ms = stats.Percentile(latencies, 95)
	rep.P99Ms = stats.Percentile(latencies, 99)
	return rep
}
