package domain

import "time"

// Run represents a single execution attempt of an approved work unit
type Run struct {
	ID                  string
	ProjectID           string
	PRDID               string
	Branch              string
	WorkspacePath       string // empty when not currently materialized
	PID                 int    // last observed agent process id, 0 when unknown
	Status              RunStatus
	IterationsPlanned   int
	IterationsCompleted int
	StoriesCompleted    int
	StartedAt           *time.Time
	CompletedAt         *time.Time
	LastProgressAt      *time.Time
	RetryCount          int
	ErrorMessage        string
	ResultURL           string
}

// RemainingIterations returns the iteration budget left for a restart.
// Never less than 1 so a recovered run can make at least one pass.
func (r *Run) RemainingIterations() int {
	remaining := r.IterationsPlanned - r.IterationsCompleted
	if remaining < 1 {
		return 1
	}
	return remaining
}

// IsTerminal reports whether the run reached a final state
func (r *Run) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// ProgressAge returns the time since the run last showed progress,
// falling back to StartedAt when no output was ever observed.
func (r *Run) ProgressAge(now time.Time) time.Duration {
	if r.LastProgressAt != nil {
		return now.Sub(*r.LastProgressAt)
	}
	if r.StartedAt != nil {
		return now.Sub(*r.StartedAt)
	}
	return 0
}

// WorkLogEntry is an append-only audit record tied to a run and/or project
type WorkLogEntry struct {
	ID        int64
	RunID     string // empty when the entry is project-scoped only
	ProjectID string
	Event     string
	Message   string
	CreatedAt time.Time
}

// HealthAlert is an advisory record produced by the health monitor
type HealthAlert struct {
	ID           int64
	RunID        string
	ProjectID    string
	Kind         AlertKind
	Severity     AlertSeverity
	Message      string
	Context      string
	Acknowledged bool
	CreatedAt    time.Time
}
