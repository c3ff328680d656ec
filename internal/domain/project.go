package domain

import "time"

// Project is a registered repository the fleet runs agents against.
// Seeded by the importer; the core reads it but does not own it.
type Project struct {
	ID                string
	Name              string
	Path              string // absolute path to the repo checkout
	MaxConcurrentRuns int    // 0 means use the global default
	DefaultIterations int
	AgentTool         string
	CreatedAt         time.Time
}

// PRD is one approved unit of work supplied by the upstream approval layer
type PRD struct {
	ID         string
	ProjectID  string
	Title      string
	BranchHint string
	Iterations int // 0 means use the project default
	RiskScore  float64
	Status     PRDStatus
	ResultURL  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlannedIterations resolves the iteration budget for a run of this PRD
func (p *PRD) PlannedIterations(project *Project) int {
	if p.Iterations > 0 {
		return p.Iterations
	}
	if project != nil && project.DefaultIterations > 0 {
		return project.DefaultIterations
	}
	return 10
}
