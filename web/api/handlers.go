package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

// RunResponse is the API response for a run
type RunResponse struct {
	ID                  string  `json:"id"`
	ProjectID           string  `json:"project_id"`
	PRDID               string  `json:"prd_id"`
	Branch              string  `json:"branch"`
	Status              string  `json:"status"`
	IterationsPlanned   int     `json:"iterations_planned"`
	IterationsCompleted int     `json:"iterations_completed"`
	StoriesCompleted    int     `json:"stories_completed"`
	RetryCount          int     `json:"retry_count"`
	StartedAt           *string `json:"started_at,omitempty"`
	CompletedAt         *string `json:"completed_at,omitempty"`
	ProgressAge         string  `json:"progress_age,omitempty"`
	Error               string  `json:"error,omitempty"`
	ResultURL           string  `json:"result_url,omitempty"`
}

// StatusResponse is the API response for overall fleet status
type StatusResponse struct {
	Projects  int `json:"projects"`
	Approved  int `json:"approved_prds"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ProjectResponse is the API response for a project
type ProjectResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	MaxConcurrentRuns int    `json:"max_concurrent_runs"`
	DefaultIterations int    `json:"default_iterations"`
	AgentTool         string `json:"agent_tool"`
}

// AlertResponse is the API response for a health alert
type AlertResponse struct {
	ID           int64  `json:"id"`
	RunID        string `json:"run_id"`
	ProjectID    string `json:"project_id"`
	Kind         string `json:"kind"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	Context      string `json:"context,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
	CreatedAt    string `json:"created_at"`
}

// WorkLogResponse is one audit entry of a run
type WorkLogResponse struct {
	Event     string `json:"event"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		PRDID:               r.PRDID,
		Branch:              r.Branch,
		Status:              string(r.Status),
		IterationsPlanned:   r.IterationsPlanned,
		IterationsCompleted: r.IterationsCompleted,
		StoriesCompleted:    r.StoriesCompleted,
		RetryCount:          r.RetryCount,
		Error:               r.ErrorMessage,
		ResultURL:           r.ResultURL,
	}
	if r.StartedAt != nil {
		t := r.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := r.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	if r.Status == domain.RunRunning {
		resp.ProgressAge = r.ProgressAge(time.Now()).Round(time.Second).String()
	}
	return resp
}

func alertToResponse(a *domain.HealthAlert) AlertResponse {
	return AlertResponse{
		ID:           a.ID,
		RunID:        a.RunID,
		ProjectID:    a.ProjectID,
		Kind:         string(a.Kind),
		Severity:     string(a.Severity),
		Message:      a.Message,
		Context:      a.Context,
		Acknowledged: a.Acknowledged,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var status StatusResponse

		projects, err := s.store.ListProjects()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status.Projects = len(projects)

		approved, err := s.store.ListApprovedPRDs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status.Approved = len(approved)

		for _, st := range []domain.RunStatus{domain.RunRunning, domain.RunCompleted, domain.RunFailed} {
			runs, err := s.store.ListRunsByStatus(st)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			switch st {
			case domain.RunRunning:
				status.Running = len(runs)
			case domain.RunCompleted:
				status.Completed = len(runs)
			case domain.RunFailed:
				status.Failed = len(runs)
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		statuses := []domain.RunStatus{domain.RunRunning, domain.RunPending, domain.RunCompleted, domain.RunFailed}
		if q := r.URL.Query().Get("status"); q != "" {
			statuses = []domain.RunStatus{domain.RunStatus(q)}
		}

		responses := make([]RunResponse, 0)
		for _, st := range statuses {
			runs, err := s.store.ListRunsByStatus(st)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			for _, run := range runs {
				responses = append(responses, runToResponse(run))
			}
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// /api/runs/{id} or /api/runs/{id}/log
		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		if id, ok := strings.CutSuffix(path, "/log"); ok {
			s.serveRunLog(w, id)
			return
		}

		run, err := s.store.GetRun(path)
		if err != nil {
			if errors.Is(err, runstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, runToResponse(run))
	}
}

func (s *Server) serveRunLog(w http.ResponseWriter, runID string) {
	entries, err := s.store.ListWorkLogForRun(runID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]WorkLogResponse, len(entries))
	for i, e := range entries {
		responses[i] = WorkLogResponse{
			Event:     e.Event,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, map[string]any{"run_id": runID, "entries": responses})
}

func (s *Server) listProjectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		projects, err := s.store.ListProjects()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]ProjectResponse, len(projects))
		for i, p := range projects {
			responses[i] = ProjectResponse{
				ID:                p.ID,
				Name:              p.Name,
				Path:              p.Path,
				MaxConcurrentRuns: p.MaxConcurrentRuns,
				DefaultIterations: p.DefaultIterations,
				AgentTool:         p.AgentTool,
			}
		}
		writeJSON(w, responses)
	}
}

func (s *Server) listAlertsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		alerts, err := s.store.ListRecentAlerts(50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]AlertResponse, len(alerts))
		for i, a := range alerts {
			responses[i] = alertToResponse(a)
		}
		writeJSON(w, responses)
	}
}
