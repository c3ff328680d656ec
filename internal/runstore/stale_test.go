package runstore

import (
	"testing"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

func startRunAt(t *testing.T, store *Store, id, projectID, prdID string, startedAt time.Time) {
	t.Helper()
	err := store.CreateRun(&domain.Run{
		ID: id, ProjectID: projectID, PRDID: prdID, Branch: "b",
		Status: domain.RunPending, IterationsPlanned: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunStarted(id, startedAt); err != nil {
		t.Fatal(err)
	}
}

func TestGetStaleRuns(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "alpha")
	seedPRD(t, store, "prd-1", "alpha", 0.5)
	seedPRD(t, store, "prd-2", "alpha", 0.4)

	startRunAt(t, store, "run-stale", "alpha", "prd-1", time.Now().Add(-45*time.Minute))
	startRunAt(t, store, "run-fresh", "alpha", "prd-2", time.Now().Add(-5*time.Minute))

	stale, err := store.GetStaleRuns(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != "run-stale" {
		t.Fatalf("stale = %v, want exactly run-stale", runIDs(stale))
	}
}

func TestGetStaleRunsWidensWithRetryCount(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "alpha")
	seedPRD(t, store, "prd-1", "alpha", 0.5)

	// 45 minutes silent, but on its first retry: threshold is 30m * 2 = 60m.
	startRunAt(t, store, "run-1", "alpha", "prd-1", time.Now().Add(-45*time.Minute))
	store.MarkRunFailed("run-1", "exit status 1", time.Now().Add(-45*time.Minute))
	store.ResetRunForRetry("run-1", time.Now().Add(-45*time.Minute))

	stale, err := store.GetStaleRuns(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("retried run flagged too early: %v", runIDs(stale))
	}

	// Past the widened threshold it is stale after all.
	stale, err = store.GetStaleRuns(20)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Errorf("stale = %v, want run-1 past 40m widened threshold", runIDs(stale))
	}
}

func TestMarkStaleRunsAsFailed(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "alpha")
	seedPRD(t, store, "prd-1", "alpha", 0.5)
	startRunAt(t, store, "run-1", "alpha", "prd-1", time.Now().Add(-2*time.Hour))

	marked, err := store.MarkStaleRunsAsFailed(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("marked %d runs, want 1", len(marked))
	}

	run, _ := store.GetRun("run-1")
	if run.Status != domain.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	prd, _ := store.GetPRD("prd-1")
	if prd.Status != domain.PRDFailed {
		t.Errorf("prd status = %s, want failed", prd.Status)
	}

	entries, _ := store.ListWorkLogForRun("run-1", 10)
	found := false
	for _, e := range entries {
		if e.Event == domain.EventRunMarkedStale {
			found = true
		}
	}
	if !found {
		t.Error("stale marking not recorded in work log")
	}
}

func runIDs(runs []*domain.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
