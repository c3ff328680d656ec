package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

const runColumns = `id, project_id, prd_id, branch, workspace_path, pid, status,
	iterations_planned, iterations_completed, stories_completed,
	started_at, completed_at, last_progress_at, retry_count, error_message, result_url`

// CreateRun inserts a new run record
func (s *Store) CreateRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, project_id, prd_id, branch, workspace_path, pid, status,
			iterations_planned, iterations_completed, stories_completed,
			started_at, completed_at, last_progress_at, retry_count, error_message, result_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ProjectID,
		run.PRDID,
		run.Branch,
		nullString(run.WorkspacePath),
		run.PID,
		string(run.Status),
		run.IterationsPlanned,
		run.IterationsCompleted,
		run.StoriesCompleted,
		run.StartedAt,
		run.CompletedAt,
		run.LastProgressAt,
		run.RetryCount,
		nullString(run.ErrorMessage),
		nullString(run.ResultURL),
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRunsByStatus returns all runs in the given status, oldest first
func (s *Store) ListRunsByStatus(status domain.RunStatus) ([]*domain.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListRunsByProject returns all runs for a project, newest first
func (s *Store) ListRunsByProject(projectID string) ([]*domain.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE project_id = ? ORDER BY started_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ActiveRunIDs returns the ids of running runs for one project. This is the
// set CleanupOrphaned must treat as legitimate workspace owners.
func (s *Store) ActiveRunIDs(projectID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT id FROM runs WHERE project_id = ? AND status = ?`,
		projectID, string(domain.RunRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[id] = true
	}
	return active, rows.Err()
}

// MarkRunStarted transitions a run to running and records the start time
func (s *Store) MarkRunStarted(id string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, started_at = ?, last_progress_at = ?
		WHERE id = ?
	`, string(domain.RunRunning), startedAt, startedAt, id)
	return err
}

// MarkRunCompleted transitions a run to completed. Idempotent: applying it
// to an already-completed run rewrites the same terminal fields.
func (s *Store) MarkRunCompleted(id, resultURL string, completedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, result_url = ?, error_message = NULL, pid = 0
		WHERE id = ?
	`, string(domain.RunCompleted), completedAt, nullString(resultURL), id)
	return err
}

// MarkRunFailed transitions a run to failed, keeping the error message on
// the record for operators.
func (s *Store) MarkRunFailed(id, errMsg string, completedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error_message = ?, pid = 0
		WHERE id = ?
	`, string(domain.RunFailed), completedAt, errMsg, id)
	return err
}

// ResetRunForRetry re-attempts a failed run in place: status back to running,
// retry_count incremented, progress counters preserved.
func (s *Store) ResetRunForRetry(id string, restartedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, retry_count = retry_count + 1,
			completed_at = NULL, error_message = NULL, last_progress_at = ?
		WHERE id = ?
	`, string(domain.RunRunning), restartedAt, id)
	return err
}

// UpdateRunProgress records parsed iteration/story progress. Counters only
// move forward so a restarted agent reporting "Iteration 1" cannot roll back
// persisted progress.
func (s *Store) UpdateRunProgress(id string, iterations, stories int, progressAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET
			iterations_completed = MAX(iterations_completed, ?),
			stories_completed = MAX(stories_completed, ?),
			last_progress_at = ?
		WHERE id = ?
	`, iterations, stories, progressAt, id)
	return err
}

// UpdateRunPID records the agent subprocess pid (0 clears it)
func (s *Store) UpdateRunPID(id string, pid int) error {
	_, err := s.db.Exec(`UPDATE runs SET pid = ? WHERE id = ?`, pid, id)
	return err
}

// UpdateRunWorkspace records the materialized workspace path (empty clears it)
func (s *Store) UpdateRunWorkspace(id, path string) error {
	_, err := s.db.Exec(`UPDATE runs SET workspace_path = ? WHERE id = ?`, nullString(path), id)
	return err
}

func collectRuns(rows *sql.Rows) ([]*domain.Run, error) {
	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scan func(dest ...any) error) (*domain.Run, error) {
	var run domain.Run
	var status string
	var workspacePath, errorMessage, resultURL sql.NullString
	var startedAt, completedAt, lastProgressAt sql.NullTime

	err := scan(
		&run.ID, &run.ProjectID, &run.PRDID, &run.Branch, &workspacePath, &run.PID, &status,
		&run.IterationsPlanned, &run.IterationsCompleted, &run.StoriesCompleted,
		&startedAt, &completedAt, &lastProgressAt, &run.RetryCount, &errorMessage, &resultURL,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.WorkspacePath = workspacePath.String
	run.ErrorMessage = errorMessage.String
	run.ResultURL = resultURL.String
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if lastProgressAt.Valid {
		t := lastProgressAt.Time
		run.LastProgressAt = &t
	}
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
