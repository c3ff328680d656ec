package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingNotifier) Send(a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestStore(t *testing.T) *runstore.Store {
	t.Helper()
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRunningRun(t *testing.T, store *runstore.Store, id string, startedAgo time.Duration, iterations int) {
	t.Helper()
	store.UpsertProject(&domain.Project{ID: "alpha", Name: "Alpha", Path: "/repos/alpha", DefaultIterations: 10, AgentTool: "claude", CreatedAt: time.Now()})
	store.UpsertPRD(&domain.PRD{ID: "prd-" + id, ProjectID: "alpha", Title: "t", Status: domain.PRDApproved, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	err := store.CreateRun(&domain.Run{ID: id, ProjectID: "alpha", PRDID: "prd-" + id, Branch: "b", Status: domain.RunPending, IterationsPlanned: 10})
	if err != nil {
		t.Fatal(err)
	}
	started := time.Now().Add(-startedAgo)
	store.MarkRunStarted(id, started)
	if iterations > 0 {
		store.UpdateRunProgress(id, iterations, 0, time.Now())
	}
}

func testConfig() Config {
	return Config{
		MinutesPerIteration: 5,
		WarningAfter:        10 * time.Minute,
		StuckAfter:          30 * time.Minute,
		StuckRatio:          0.25,
		CrashAfter:          15 * time.Minute,
		DedupeWindow:        30 * time.Minute,
	}
}

func TestCheckAllAgentsStuck(t *testing.T) {
	store := newTestStore(t)
	// 60 minutes in, 2 iterations against an expected 12: stuck.
	seedRunningRun(t, store, "run-stuck", time.Hour, 2)

	m := NewMonitor(store, testConfig(), nil, nil)
	issues, err := m.CheckAllAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].Kind != domain.AlertStuck || issues[0].Severity != domain.SeverityCritical {
		t.Errorf("issue = %s/%s, want stuck/critical", issues[0].Kind, issues[0].Severity)
	}
}

func TestCheckAllAgentsSlowProgress(t *testing.T) {
	store := newTestStore(t)
	// 20 minutes in with zero iterations: warning, not yet stuck.
	seedRunningRun(t, store, "run-slow", 20*time.Minute, 0)

	m := NewMonitor(store, testConfig(), nil, nil)
	issues, err := m.CheckAllAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].Kind != domain.AlertSlowProgress || issues[0].Severity != domain.SeverityWarning {
		t.Errorf("issue = %s/%s, want slow-progress/warning", issues[0].Kind, issues[0].Severity)
	}
}

func TestCheckAllAgentsHealthy(t *testing.T) {
	store := newTestStore(t)
	// On pace: 60 minutes, 12 iterations.
	seedRunningRun(t, store, "run-ok", time.Hour, 12)

	m := NewMonitor(store, testConfig(), nil, nil)
	issues, err := m.CheckAllAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Errorf("healthy run flagged: %+v", issues)
	}
}

func TestDetectCrashedAgents(t *testing.T) {
	store := newTestStore(t)
	seedRunningRun(t, store, "run-dead", 20*time.Minute, 0)
	// Progress within the window keeps a run out of the crash set.
	seedRunningRun(t, store, "run-live", 20*time.Minute, 0)
	store.UpdateRunProgress("run-live", 0, 0, time.Now())
	store.UpdateRunPID("run-dead", 1<<22)

	m := NewMonitor(store, testConfig(), nil, nil)
	m.alive = func(pid int) bool { return false }

	issues, err := m.DetectCrashedAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Run.ID != "run-dead" {
		t.Fatalf("issues = %+v, want exactly run-dead", issues)
	}
	if issues[0].Kind != domain.AlertCrashed {
		t.Errorf("kind = %s, want crashed", issues[0].Kind)
	}
	if issues[0].Context == "" {
		t.Error("crash context should mention staleness")
	}
}

func TestCrashedWithProgressNotFlagged(t *testing.T) {
	store := newTestStore(t)
	seedRunningRun(t, store, "run-1", time.Hour, 3)
	// Old progress timestamp but iterations exist: the rate heuristic owns
	// this case, not the crash detector.
	old := time.Now().Add(-30 * time.Minute)
	store.UpdateRunProgress("run-1", 3, 0, old)

	m := NewMonitor(store, testConfig(), nil, nil)
	issues, err := m.DetectCrashedAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Errorf("run with iterations flagged as crashed: %+v", issues)
	}
}

func TestRunHealthCheckDedupesAlerts(t *testing.T) {
	store := newTestStore(t)
	seedRunningRun(t, store, "run-stuck", time.Hour, 0)

	notifier := &recordingNotifier{}
	m := NewMonitor(store, testConfig(), notifier, nil)
	m.alive = func(pid int) bool { return true }
	ctx := context.Background()

	first, err := m.RunHealthCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Alerts) != 1 {
		t.Fatalf("first check produced %d alerts, want 1", len(first.Alerts))
	}

	// One second later the run is unchanged: no second alert.
	time.Sleep(time.Second)
	second, err := m.RunHealthCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Alerts) != 0 {
		t.Errorf("second check produced %d alerts, want 0 within dedupe window", len(second.Alerts))
	}
	if second.Errors != 1 {
		t.Errorf("report should still count the issue: errors = %d", second.Errors)
	}
	if notifier.count() != 1 {
		t.Errorf("notifier called %d times, want 1", notifier.count())
	}

	stored, _ := store.ListRecentAlerts(10)
	if len(stored) != 1 {
		t.Errorf("%d alerts persisted, want 1", len(stored))
	}
}

func TestRunHealthCheckCrashWinsOverStuck(t *testing.T) {
	store := newTestStore(t)
	// Qualifies for both: zero iterations, an hour old, stale progress.
	seedRunningRun(t, store, "run-1", time.Hour, 0)

	m := NewMonitor(store, testConfig(), nil, nil)
	m.alive = func(pid int) bool { return true }

	report, err := m.RunHealthCheck(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(report.Alerts))
	}
	if report.Alerts[0].Kind != domain.AlertCrashed {
		t.Errorf("kind = %s, want crashed to win the union", report.Alerts[0].Kind)
	}
}

func TestRunHealthCheckCounts(t *testing.T) {
	store := newTestStore(t)
	seedRunningRun(t, store, "run-ok", time.Hour, 12)
	seedRunningRun(t, store, "run-slow", 20*time.Minute, 0)
	store.UpdateRunProgress("run-slow", 0, 0, time.Now())

	m := NewMonitor(store, testConfig(), nil, nil)
	m.alive = func(pid int) bool { return true }

	report, err := m.RunHealthCheck(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 2 {
		t.Errorf("checked = %d, want 2", report.Checked)
	}
	if report.Healthy != 1 {
		t.Errorf("healthy = %d, want 1", report.Healthy)
	}
	if report.Warnings != 1 || report.Errors != 0 {
		t.Errorf("warnings/errors = %d/%d, want 1/0", report.Warnings, report.Errors)
	}
}
