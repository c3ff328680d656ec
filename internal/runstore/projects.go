package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// UpsertProject inserts or updates a project registration
func (s *Store) UpsertProject(p *domain.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, path, max_concurrent_runs, default_iterations, agent_tool, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			max_concurrent_runs = excluded.max_concurrent_runs,
			default_iterations = excluded.default_iterations,
			agent_tool = excluded.agent_tool
	`, p.ID, p.Name, p.Path, p.MaxConcurrentRuns, p.DefaultIterations, p.AgentTool, p.CreatedAt)
	return err
}

// GetProject retrieves a project by ID
func (s *Store) GetProject(id string) (*domain.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, name, path, max_concurrent_runs, default_iterations, agent_tool, created_at
		FROM projects WHERE id = ?
	`, id)

	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.MaxConcurrentRuns, &p.DefaultIterations, &p.AgentTool, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all registered projects ordered by id
func (s *Store) ListProjects() ([]*domain.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, path, max_concurrent_runs, default_iterations, agent_tool, created_at
		FROM projects ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.MaxConcurrentRuns, &p.DefaultIterations, &p.AgentTool, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// UpsertPRD inserts or updates an approved work unit. Status is only taken
// from the incoming record on first insert; later imports must not knock an
// executing PRD back to approved.
func (s *Store) UpsertPRD(p *domain.PRD) error {
	_, err := s.db.Exec(`
		INSERT INTO prds (id, project_id, title, branch_hint, iterations, risk_score, status, result_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			branch_hint = excluded.branch_hint,
			iterations = excluded.iterations,
			risk_score = excluded.risk_score,
			updated_at = excluded.updated_at
	`, p.ID, p.ProjectID, p.Title, nullString(p.BranchHint), p.Iterations, p.RiskScore,
		string(p.Status), nullString(p.ResultURL), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetPRD retrieves a PRD by ID
func (s *Store) GetPRD(id string) (*domain.PRD, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, branch_hint, iterations, risk_score, status, result_url, created_at, updated_at
		FROM prds WHERE id = ?
	`, id)
	prd, err := scanPRD(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prd %s: %w", id, ErrNotFound)
	}
	return prd, err
}

// ListApprovedPRDs returns approved work units in descending risk-score
// order, the order the scheduler considers them in.
func (s *Store) ListApprovedPRDs() ([]*domain.PRD, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, branch_hint, iterations, risk_score, status, result_url, created_at, updated_at
		FROM prds WHERE status = ? ORDER BY risk_score DESC, id
	`, string(domain.PRDApproved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prds []*domain.PRD
	for rows.Next() {
		prd, err := scanPRD(rows.Scan)
		if err != nil {
			return nil, err
		}
		prds = append(prds, prd)
	}
	return prds, rows.Err()
}

// UpdatePRDStatus reports an execution outcome back to the approval layer
func (s *Store) UpdatePRDStatus(id string, status domain.PRDStatus, resultURL string) error {
	_, err := s.db.Exec(`
		UPDATE prds SET status = ?, result_url = COALESCE(?, result_url), updated_at = ?
		WHERE id = ?
	`, string(status), nullString(resultURL), time.Now(), id)
	return err
}

func scanPRD(scan func(dest ...any) error) (*domain.PRD, error) {
	var p domain.PRD
	var status string
	var branchHint, resultURL sql.NullString

	err := scan(&p.ID, &p.ProjectID, &p.Title, &branchHint, &p.Iterations, &p.RiskScore,
		&status, &resultURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PRDStatus(status)
	p.BranchHint = branchHint.String
	p.ResultURL = resultURL.String
	return &p, nil
}
