// Package httpstatus exposes a small read-only HTTP surface for operators
// and monitoring systems that would rather scrape JSON than speak the
// control socket's line protocol. It never mutates registry or bucket
// state — everything it serves comes from the same aggregate-only sources
// the STATUS control command uses.
package httpstatus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/nopingd/internal/registry"
	"github.com/pilot-net/nopingd/internal/selfstatus"
	"github.com/pilot-net/nopingd/internal/types"
)

// Server is the HTTP status surface. It is normally bound to a loopback
// address only; nopingd has no authentication layer of its own and relies
// on the operator keeping this off the public interface.
type Server struct {
	registry   *registry.Registry
	selfstatus *selfstatus.Collector
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewServer builds a Server. registry and selfstatus are read from on every
// request; neither is ever written to.
func NewServer(reg *registry.Registry, collector *selfstatus.Collector, logger *slog.Logger) *Server {
	s := &Server{
		registry:   reg,
		selfstatus: collector,
		logger:     logger.With("component", "httpstatus"),
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Mux returns the underlying ServeMux, for tests that want to drive
// requests directly without a listening socket.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// statsResponse is the JSON shape served at /stats — deliberately the same
// information the STATUS control command answers with, reshaped for
// machine consumers instead of a single space-separated line.
type statsResponse struct {
	Hosts      map[string]int `json:"hosts"`
	TotalHosts int            `json:"total_hosts"`
	Uptime     int64          `json:"uptime_seconds"`
	CPUPercent float64        `json:"cpu_percent"`
	MemoryRSS  string         `json:"memory_rss"`
	Goroutines int            `json:"goroutines"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.registry.CountByStatus()
	snap := s.selfstatus.Snapshot(r.Context())

	statuses := []types.Status{
		types.StatusUntested, types.StatusActive,
		types.StatusInactive1, types.StatusInactive2, types.StatusInactive3, types.StatusInactive4,
		types.StatusInactiveFlagged, types.StatusDefunct,
	}

	hosts := make(map[string]int, len(statuses))
	total := 0
	for _, st := range statuses {
		n := counts[st]
		hosts[st.String()] = n
		total += n
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Hosts:      hosts,
		TotalHosts: total,
		Uptime:     snap.UptimeSeconds,
		CPUPercent: snap.CPUPercent,
		MemoryRSS:  snap.MemoryRSSFormatted,
		Goroutines: snap.Goroutines,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
