// Package autopsy analyzes a closed batch of logged shadow-mode trading
// decisions and produces the admission verdict that gates live trading.
package autopsy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/quantgate/sentinel/internal/observ"
)

// DecisionRecord is one logged shadow decision. Timestamps are epoch
// seconds as written by the shadow logger; TsLog-TsSignal is the
// signal-to-log latency under analysis.
type DecisionRecord struct {
	ID         string  `json:"id"`
	TsSignal   float64 `json:"ts_signal"`
	TsLog      float64 `json:"ts_log"`
	Signal     *int    `json:"signal"` // -1, 0, 1; nil or out of range is a critical error
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"` // [0, 1]
}

// LatencyMs returns the signal-to-log latency in milliseconds.
func (r DecisionRecord) LatencyMs() float64 {
	return (r.TsLog - r.TsSignal) * 1000
}

// ValidSignal reports whether the signal is present and in {-1, 0, 1}.
func (r DecisionRecord) ValidSignal() bool {
	return r.Signal != nil && *r.Signal >= -1 && *r.Signal <= 1
}

// ReadLog reads a JSONL shadow log. Malformed lines are counted, not
// silently skipped: each one is a decision that was made but cannot be
// audited, which the gatekeeper treats as a critical error.
func ReadLog(path string) ([]DecisionRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open shadow log: %w", err)
	}
	defer f.Close()

	var records []DecisionRecord
	malformed := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var r DecisionRecord
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			malformed++
			observ.Warn("shadow_log_malformed_line", map[string]any{"line": line, "error": err.Error()})
			continue
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, malformed, fmt.Errorf("read shadow log: %w", err)
	}
	return records, malformed, nil
}
