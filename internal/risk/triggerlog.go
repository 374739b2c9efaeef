package risk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type TriggerKind string

const (
	KindKill  TriggerKind = "KILL"  // hard breach, breaker engaged
	KindAlert TriggerKind = "ALERT" // soft breach, warning only
)

// TriggerEntry is one line of the append-only audit trail. Operators
// reconstruct the history of breaches from this file alone.
type TriggerEntry struct {
	ID     int64       `json:"id"`
	TS     time.Time   `json:"ts"`
	Kind   TriggerKind `json:"kind"`
	Metric string      `json:"metric,omitempty"`
	Value  float64     `json:"value,omitempty"`
	Limit  float64     `json:"limit,omitempty"`
	Reason string      `json:"reason"`
}

// TriggerLog is a durable JSONL log of kill triggers and alerts.
// Appends are synchronous: a breach record that might be lost on crash is
// worth less than the few microseconds saved.
type TriggerLog struct {
	mu     sync.Mutex
	path   string
	nextID int64
}

func NewTriggerLog(path string) (*TriggerLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trigger log dir: %w", err)
	}
	tl := &TriggerLog{path: path, nextID: 1}

	// Resume the ID sequence from an existing log.
	entries, err := tl.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID >= tl.nextID {
			tl.nextID = e.ID + 1
		}
	}
	return tl, nil
}

func (tl *TriggerLog) Append(e TriggerEntry) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	e.ID = tl.nextID
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}

	f, err := os.OpenFile(tl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trigger log: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal trigger entry: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s\n", b); err != nil {
		return fmt.Errorf("write trigger entry: %w", err)
	}

	tl.nextID++
	return nil
}

// Entries reads the full log back. Malformed lines are skipped; the log is
// append-only and a torn final line after a crash must not poison replay.
func (tl *TriggerLog) Entries() ([]TriggerEntry, error) {
	f, err := os.Open(tl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trigger log: %w", err)
	}
	defer f.Close()

	var out []TriggerEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e TriggerEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trigger log: %w", err)
	}
	return out, nil
}
