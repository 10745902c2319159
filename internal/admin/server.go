// Package admin exposes an HTTP observability surface over every pool
// started in-process: liveness, per-pool occupancy stats, and a Prometheus
// /metrics endpoint, built on gorilla/mux and promhttp. Pools themselves are
// started in-process via StartPool rather than provisioned over HTTP, so
// this surface carries only read-only routes: pool listing and stats,
// health, readiness, and metrics, in plain JSON.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanhughes/pgo/internal/health"
	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/telemetry"
)

// Registry is the pool directory the server reports on.
type Registry interface {
	Pools() map[string]*pgpool.Pool
}

// Server is the admin HTTP server: health, pool stats, and metrics.
type Server struct {
	registry    Registry
	healthCheck *health.Checker
	collector   *telemetry.Collector
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates an admin server over registry, reporting healthCheck's
// liveness state and collector's Prometheus metrics. healthCheck and
// collector may be nil; their routes degrade gracefully.
func NewServer(registry Registry, healthCheck *health.Checker, collector *telemetry.Collector) *Server {
	return &Server{
		registry:    registry,
		healthCheck: healthCheck,
		collector:   collector,
		startTime:   time.Now(),
	}
}

// Start begins serving on the given port.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/pools", s.listPools).Methods("GET")
	r.HandleFunc("/pools/{name}", s.getPool).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	if s.collector != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry, promhttp.HandlerOpts{}))
	}

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[admin] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[admin] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type poolResponse struct {
	Name   string             `json:"name"`
	Stats  pgpool.Stats       `json:"stats"`
	Health *health.PoolHealth `json:"health,omitempty"`
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools := s.registry.Pools()
	result := make([]poolResponse, 0, len(pools))
	for name, p := range pools {
		pr := poolResponse{Name: name, Stats: p.Stats()}
		if s.healthCheck != nil {
			h := s.healthCheck.GetStatus(name)
			pr.Health = &h
		}
		result = append(result, pr)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.registry.Pools()[name]
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	pr := poolResponse{Name: name, Stats: p.Stats()}
	if s.healthCheck != nil {
		h := s.healthCheck.GetStatus(name)
		pr.Health = &h
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": boolToStatus(allHealthy),
		"pools":  statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	pools := s.registry.Pools()
	if len(pools) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	for name := range pools {
		if s.healthCheck.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_pools":      len(s.registry.Pools()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
