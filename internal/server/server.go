// Package server exposes the watch loop's state over HTTP: a liveness
// endpoint and the most recent reconciliation result. Read-only; nothing
// here can trigger a pass or mutate a record.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/possum-survey/possumctl/pkg/reconcile"
)

// StatusServer serves /healthz and /status for a running watch loop.
type StatusServer struct {
	version string

	mu         sync.RWMutex
	lastResult *reconcile.Result
	lastRun    time.Time
	lastErr    string

	srv *http.Server
}

// New creates a StatusServer listening on addr.
func New(addr, version string) *StatusServer {
	s := &StatusServer{version: version}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// RecordPass stores the outcome of the most recent reconciliation pass.
func (s *StatusServer) RecordPass(res reconcile.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now().UTC()
	if err != nil {
		s.lastResult = nil
		s.lastErr = err.Error()
		return
	}
	s.lastResult = &res
	s.lastErr = ""
}

// Handler returns the HTTP handler, exposed for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *StatusServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

type statusResponse struct {
	LastRun    *time.Time        `json:"last_run,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	LastResult *reconcile.Result `json:"last_result,omitempty"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := statusResponse{
		LastError:  s.lastErr,
		LastResult: s.lastResult,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		resp.LastRun = &t
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
