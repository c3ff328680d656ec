package api

import (
	"encoding/json"
	"net/http"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
)

// Store is the read surface the API serves from
type Store interface {
	ListProjects() ([]*domain.Project, error)
	ListApprovedPRDs() ([]*domain.PRD, error)
	ListRunsByStatus(status domain.RunStatus) ([]*domain.Run, error)
	GetRun(id string) (*domain.Run, error)
	ListWorkLogForRun(runID string, limit int) ([]*domain.WorkLogEntry, error)
	ListRecentAlerts(limit int) ([]*domain.HealthAlert, error)
}

// Server is the HTTP API server
type Server struct {
	store Store
	addr  string
	mux   *http.ServeMux
	hub   *EventHub
	log   *logging.Logger
}

// NewServer creates a new API server
func NewServer(store Store, addr string, log *logging.Logger) *Server {
	s := &Server{
		store: store,
		addr:  addr,
		mux:   http.NewServeMux(),
		hub:   NewEventHub(),
		log:   log.WithComponent("web"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/projects", s.listProjectsHandler())
	s.mux.HandleFunc("/api/alerts", s.listAlertsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Start starts the HTTP server. Blocking.
func (s *Server) Start() error {
	go s.hub.Run()
	s.log.Info("listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all SSE and websocket clients
func (s *Server) Broadcast(event Event) {
	s.hub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
