package autopsy

import "github.com/quantgate/sentinel/internal/stats"

const (
	defaultDriftWindow  = 50
	entropyVarThreshold = 0.5  // bits^2 across windows
	signShiftThreshold  = 0.25 // PSI over the sign distribution
	entropyBins         = 10
)

type DriftReport struct {
	WindowCount     int     `json:"window_count"`
	EntropyVariance float64 `json:"entropy_variance"`
	SignDistShift   float64 `json:"sign_dist_shift"`
	Events          int     `json:"events"` // bounded, at most 2
}

// AuditDrift splits the batch into fixed-size windows and looks for two
// symptoms of an unstable strategy: high variance of confidence entropy
// across windows, and a shift in the signal sign distribution between the
// first and second half of the batch. It reports a small bounded event
// count instead of a raw score so short batches do not false-alarm.
func AuditDrift(records []DecisionRecord, windowSize int) DriftReport {
	if windowSize <= 0 {
		windowSize = defaultDriftWindow
	}

	var rep DriftReport
	if len(records) < windowSize*2 {
		// Not enough data for a between-window comparison.
		return rep
	}

	var entropies []float64
	for start := 0; start+windowSize <= len(records); start += windowSize {
		window := records[start : start+windowSize]
		confidences := make([]float64, 0, len(window))
		for _, r := range window {
			confidences = append(confidences, r.Confidence)
		}
		entropies = append(entropies, stats.ShannonEntropy(confidences, entropyBins))
	}
	rep.WindowCount = len(entropies)
	rep.EntropyVariance = stats.Variance(entropies)
	if rep.EntropyVariance > entropyVarThreshold {
		rep.Events++
	}

	half := len(records) / 2
	first := signs(records[:half])
	second := signs(records[half:])
	rep.SignDistShift = stats.PSI(first, second, 3)
	if rep.SignDistShift > signShiftThreshold {
		rep.Events++
	}

	return rep
}

func signs(records []DecisionRecord) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if r.ValidSignal() {
			out = append(out, float64(*r.Signal))
		}
	}
	return out
}
