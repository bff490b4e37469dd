// Package api exposes the worker's HTTP surface: inference, health and
// readiness probes, recent stats and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/falconml/inferd/internal/infra/store"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/orchestrator"
)

const maxTextLength = 10000

// Server handles HTTP requests for the worker.
type Server struct {
	orch       *orchestrator.Orchestrator
	classifier inference.Classifier
	cacheStore store.CacheStore
	logStore   store.LogStore
	workerID   string
	startedAt  time.Time
	server     *http.Server
	log        *slog.Logger
}

// NewServer wires the HTTP mux.
func NewServer(port int, workerID string, orch *orchestrator.Orchestrator, clf inference.Classifier, cs store.CacheStore, ls store.LogStore) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orch:       orch,
		classifier: clf,
		cacheStore: cs,
		logStore:   ls,
		workerID:   workerID,
		startedAt:  time.Now(),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: slog.Default().With("component", "api"),
	}

	mux.HandleFunc("POST /infer", s.handleInfer)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type inferRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	WorkerID  string `json:"worker_id"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var body inferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "validation")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text cannot be empty", "validation")
		return
	}
	if len(body.Text) > maxTextLength {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("text exceeds %d characters", maxTextLength), "validation")
		return
	}

	idemKey := r.Header.Get("X-Idempotency-Key")

	resp, err := s.orch.Process(r.Context(), body.Text, idemKey)
	if err != nil {
		if errors.Is(err, resilience.ErrIdempotencyConflict) {
			s.writeError(w, http.StatusConflict,
				"idempotency key already used with a different payload", "idempotency_conflict")
			return
		}
		s.log.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error(), "inference_error")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status        string    `json:"status"`
	WorkerID      string    `json:"worker_id"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		WorkerID:      s.workerID,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	})
}

type readyResponse struct {
	Ready     bool            `json:"ready"`
	WorkerID  string          `json:"worker_id"`
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{
		"model_loaded":        s.classifier.Ready(),
		"cache_available":     s.cacheStore.Ping(ctx) == nil,
		"log_store_available": s.logStore.Ping(ctx) == nil,
	}

	// Only the model gates readiness: the stores have degraded fallbacks.
	ready := checks["model_loaded"]
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, readyResponse{
		Ready:     ready,
		WorkerID:  s.workerID,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.logStore.RecentStats(ctx, 100)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "log store unavailable", "dependency_unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, errType string) {
	s.writeJSON(w, status, errorResponse{
		Error:     msg,
		ErrorType: errType,
		WorkerID:  s.workerID,
	})
}
