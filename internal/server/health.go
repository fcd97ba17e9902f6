package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"signalhub/internal/version"
)

// liveness is the /healthz payload.
type liveness struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// readiness is the /readyz payload.
type readiness struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
}

// healthSnapshot builds the current liveness and readiness views.
func (s *Server) healthSnapshot() (liveness, readiness) {
	live := liveness{
		Status:    "ok",
		Uptime:    s.Uptime().Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Short(),
	}

	checks := map[string]bool{
		"embedder":     s.embedderReady(),
		"vector_index": s.cache != nil,
		"cache":        s.cache != nil,
		"ledger":       s.ledger != nil,
	}
	ready := true
	for _, ok := range checks {
		if !ok {
			ready = false
			break
		}
	}
	return live, readiness{Ready: ready, Checks: checks}
}

// embedderReady probes the embedder with a trivial input.
func (s *Server) embedderReady() bool {
	if s.cache == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.cache.Search(ctx, "ok", 0)
	return err == nil
}

// healthServer is the out-of-band HTTP listener for liveness, readiness, and
// metrics scraping.
type healthServer struct {
	addr   string
	s      *Server
	server *http.Server
}

func newHealthServer(addr string, s *Server) *healthServer {
	return &healthServer{addr: addr, s: s}
}

func (h *healthServer) start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
	mux.HandleFunc("/metrics", h.handleMetrics)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health listener failed on %s: %w", h.addr, err)
	}
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] Listener stopped: %v", err)
		}
	}()
	log.Printf("[Health] Listening on %s", ln.Addr())
	return nil
}

func (h *healthServer) stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.server.Shutdown(ctx)
}

func (h *healthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	live, _ := h.s.healthSnapshot()
	writeJSON(w, http.StatusOK, live)
}

func (h *healthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	_, ready := h.s.healthSnapshot()
	status := http.StatusOK
	if !ready.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ready)
}

func (h *healthServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.s.registry.PrometheusText()))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
