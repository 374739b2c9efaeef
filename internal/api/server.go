// Package api exposes the operator surface: health, breaker state, the
// guardian's halt decision with its full metric snapshot, and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantgate/sentinel/internal/guardian"
	"github.com/quantgate/sentinel/internal/heartbeat"
	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/risk"
)

type Server struct {
	breaker *risk.CircuitBreaker
	guard   *guardian.Guardian
	heart   *heartbeat.Monitor
	riskMon *risk.Monitor
	srv     *http.Server
}

func NewServer(addr string, breaker *risk.CircuitBreaker, guard *guardian.Guardian, heart *heartbeat.Monitor, riskMon *risk.Monitor) *Server {
	s := &Server{breaker: breaker, guard: guard, heart: heart, riskMon: riskMon}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/breaker", s.handleBreaker).Methods(http.MethodGet)
	r.HandleFunc("/breaker/disengage", s.handleDisengage).Methods(http.MethodPost)
	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() {
	go func() {
		observ.Log("status_server_started", map[string]any{"addr": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Error("status_server_failed", map[string]any{"error": err.Error()})
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"safe":   s.breaker.IsSafe(),
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus is the "report on demand" surface: one halt_reason string
// plus the full snapshot that produced it, so operators never have to
// infer the cause from raw logs.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.guard.Snapshot()
	out := map[string]any{
		"guardian": snap,
		"breaker":  s.breaker.State(),
	}
	if s.heart != nil {
		out["heartbeat"] = s.heart.Snapshot()
	}
	if s.riskMon != nil {
		out["account"] = s.riskMon.Snapshot()
	}
	writeJSON(w, out)
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.breaker.State())
}

// handleDisengage is the privileged operator reset. It is deliberately not
// reachable from any autonomous code path; only a human hitting this
// endpoint (or a test) clears the latch.
func (s *Server) handleDisengage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string `json:"operator"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Operator == "" || body.Reason == "" {
		http.Error(w, "operator and reason required", http.StatusBadRequest)
		return
	}
	observ.Warn("operator_disengage", map[string]any{"operator": body.Operator, "reason": body.Reason})
	s.breaker.Disengage()
	writeJSON(w, s.breaker.State())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
