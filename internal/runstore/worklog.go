package runstore

import (
	"database/sql"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// AppendWorkLog writes one audit entry. Entries are append-only; nothing
// except PruneWorkLog ever deletes them.
func (s *Store) AppendWorkLog(runID, projectID, event, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO work_log (run_id, project_id, event, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullString(runID), nullString(projectID), event, message, time.Now())
	return err
}

// ListWorkLogForRun returns the newest entries for a run, most recent first
func (s *Store) ListWorkLogForRun(runID string, limit int) ([]*domain.WorkLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, project_id, event, message, created_at
		FROM work_log WHERE run_id = ? ORDER BY id DESC LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkLog(rows)
}

// PruneWorkLog bulk-deletes entries older than the cutoff and returns the
// number removed. The only sanctioned delete path for the work log.
func (s *Store) PruneWorkLog(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM work_log WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAlert writes a new health alert
func (s *Store) InsertAlert(a *domain.HealthAlert) error {
	res, err := s.db.Exec(`
		INSERT INTO health_alerts (run_id, project_id, kind, severity, message, context, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RunID, a.ProjectID, string(a.Kind), string(a.Severity), a.Message, a.Context, a.Acknowledged, a.CreatedAt)
	if err != nil {
		return err
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// HasRecentAlert reports whether an alert of the same kind exists for the
// run within the dedupe window ending now.
func (s *Store) HasRecentAlert(runID string, kind domain.AlertKind, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM health_alerts
		WHERE run_id = ? AND kind = ? AND created_at >= ?
	`, runID, string(kind), since).Scan(&n)
	return n > 0, err
}

// ListRecentAlerts returns the newest alerts across all runs
func (s *Store) ListRecentAlerts(limit int) ([]*domain.HealthAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, project_id, kind, severity, message, context, acknowledged, created_at
		FROM health_alerts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.HealthAlert
	for rows.Next() {
		var a domain.HealthAlert
		var kind, severity string
		var message, context sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.ProjectID, &kind, &severity, &message, &context, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AlertKind(kind)
		a.Severity = domain.AlertSeverity(severity)
		a.Message = message.String
		a.Context = context.String
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert as seen by an operator
func (s *Store) AcknowledgeAlert(id int64) error {
	_, err := s.db.Exec(`UPDATE health_alerts SET acknowledged = TRUE WHERE id = ?`, id)
	return err
}

func collectWorkLog(rows *sql.Rows) ([]*domain.WorkLogEntry, error) {
	var entries []*domain.WorkLogEntry
	for rows.Next() {
		var e domain.WorkLogEntry
		var runID, projectID, message sql.NullString
		if err := rows.Scan(&e.ID, &runID, &projectID, &e.Event, &message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.ProjectID = projectID.String
		e.Message = message.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
