// Package notify pushes operator alerts to Slack. Delivery is best-effort
// and fully asynchronous: a kill decision never waits on a webhook.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/observ"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"

	queueDepth = 64
)

type Event struct {
	Severity string
	Title    string
	Fields   map[string]string
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type attachment struct {
	Color  string  `json:"color"`
	Fields []field `json:"fields,omitempty"`
}

type message struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// Slack is a bounded async notifier. Events are deduplicated by title
// inside the configured window so a flapping detector cannot flood the
// channel, and the queue drops on overflow rather than blocking a caller.
type Slack struct {
	cfg    config.Notify
	client *http.Client
	queue  chan Event
	done   chan struct{}

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewSlack(cfg config.Notify) *Slack {
	s := &Slack{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan Event, queueDepth),
		done:     make(chan struct{}),
		lastSent: map[string]time.Time{},
	}
	go s.worker()
	return s
}

// Enabled reports whether a webhook is configured at all. Callers may keep
// a nil-equivalent disabled notifier and skip the queue entirely.
func Enabled(cfg config.Notify) bool {
	return cfg.SlackWebhookURL != ""
}

// Notify enqueues an event. It never blocks: on a full queue the event is
// dropped and counted.
func (s *Slack) Notify(ev Event) {
	select {
	case s.queue <- ev:
	default:
		observ.IncCounter("notify_queue_dropped_total", nil)
		observ.Warn("notify_queue_full", map[string]any{"title": ev.Title})
	}
}

// Close stops the worker after draining what is already queued.
func (s *Slack) Close() {
	close(s.queue)
	<-s.done
}

func (s *Slack) worker() {
	defer close(s.done)
	for ev := range s.queue {
		if s.isDuplicate(ev.Title) {
			observ.IncCounter("notify_deduped_total", nil)
			continue
		}
		if err := s.post(ev); err != nil {
			observ.IncCounter("notify_webhook_errors_total", nil)
			observ.Warn("notify_send_failed", map[string]any{"title": ev.Title, "error": err.Error()})
			// One delayed retry; alerts are advisory, the trigger log is
			// the durable record.
			time.Sleep(2 * time.Second)
			if err := s.post(ev); err != nil {
				observ.IncCounter("notify_webhook_errors_total", nil)
				continue
			}
		}
		s.markSent(ev.Title)
		observ.IncCounter("notify_sent_total", map[string]string{"severity": ev.Severity})
	}
}

func (s *Slack) isDuplicate(title string) bool {
	window := time.Duration(s.cfg.DedupeWindowSeconds) * time.Second
	if window <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSent[title]
	return ok && time.Since(last) < window
}

func (s *Slack) markSent(title string) {
	s.mu.Lock()
	s.lastSent[title] = time.Now()
	s.mu.Unlock()
}

func (s *Slack) post(ev Event) error {
	color := "warning"
	if ev.Severity == SeverityCritical {
		color = "danger"
	}

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	att := attachment{Color: color}
	for _, k := range keys {
		att.Fields = append(att.Fields, field{Title: k, Value: ev.Fields[k], Short: true})
	}

	body, err := json.Marshal(message{
		Channel:     s.cfg.SlackChannel,
		Text:        ev.Title,
		Attachments: []attachment{att},
	})
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.cfg.SlackWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook status %s", resp.Status)
	}
	return nil
}
