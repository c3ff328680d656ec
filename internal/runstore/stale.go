package runstore

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// GetStaleRuns returns running runs whose last progress is older than the
// threshold. The effective threshold widens proportionally to retry_count, so
// a run on its third attempt gets more slack before being declared stale.
func (s *Store) GetStaleRuns(minutes int) ([]*domain.Run, error) {
	if minutes <= 0 {
		minutes = 30
	}
	running, err := s.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var stale []*domain.Run
	for _, run := range running {
		threshold := time.Duration(minutes*(1+run.RetryCount)) * time.Minute
		if run.ProgressAge(now) > threshold {
			stale = append(stale, run)
		}
	}
	return stale, nil
}

// MarkStaleRunsAsFailed marks every stale run failed for external
// re-scheduling and returns the runs it marked. This is the passive
// circuit-breaker behind the active recovery policy: it fires when
// recovery's own attempts are themselves wedged.
func (s *Store) MarkStaleRunsAsFailed(minutes int) ([]*domain.Run, error) {
	stale, err := s.GetStaleRuns(minutes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, run := range stale {
		msg := fmt.Sprintf("marked stale: no progress for over %dm", minutes*(1+run.RetryCount))
		if err := s.MarkRunFailed(run.ID, msg, now); err != nil {
			return nil, err
		}
		if err := s.UpdatePRDStatus(run.PRDID, domain.PRDFailed, ""); err != nil {
			return nil, err
		}
		s.AppendWorkLog(run.ID, run.ProjectID, domain.EventRunMarkedStale, msg)
	}
	return stale, nil
}
