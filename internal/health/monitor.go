package health

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/executor"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

// Config holds the monitor's thresholds
type Config struct {
	MinutesPerIteration int           // expected pace baseline
	WarningAfter        time.Duration // zero progress past this is a warning
	StuckAfter          time.Duration // far-below-expected progress past this is critical
	StuckRatio          float64       // actual/expected below this counts as stuck
	CrashAfter          time.Duration // progress-timestamp staleness for crash detection
	DedupeWindow        time.Duration // suppress repeat alerts of the same kind
}

func (c Config) withDefaults() Config {
	if c.MinutesPerIteration <= 0 {
		c.MinutesPerIteration = 5
	}
	if c.WarningAfter <= 0 {
		c.WarningAfter = 10 * time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	if c.StuckRatio <= 0 {
		c.StuckRatio = 0.25
	}
	if c.CrashAfter <= 0 {
		c.CrashAfter = 15 * time.Minute
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 30 * time.Minute
	}
	return c
}

// Issue is one non-healthy finding for a running run
type Issue struct {
	Run      *domain.Run
	Kind     domain.AlertKind
	Severity domain.AlertSeverity
	Message  string
	Context  string
}

// Report summarizes one health check cycle
type Report struct {
	Checked  int
	Healthy  int
	Warnings int
	Errors   int
	Alerts   []*domain.HealthAlert
}

// Monitor classifies running runs as healthy, slow, stuck, or crashed, and
// fans deduplicated alerts out to the configured channels. Findings are
// advisory: the monitor never fails a run by itself.
type Monitor struct {
	store    *runstore.Store
	cfg      Config
	notifier notify.Notifier
	log      *logging.Logger

	// alive probes a pid; injectable for tests
	alive func(pid int) bool
}

// NewMonitor creates a Monitor. notifier may be nil to disable fan-out.
func NewMonitor(store *runstore.Store, cfg Config, notifier notify.Notifier, log *logging.Logger) *Monitor {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Monitor{
		store:    store,
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		log:      log.WithComponent("health"),
		alive:    executor.Alive,
	}
}

// CheckAllAgents applies the iteration-rate heuristic to every running run:
// elapsed minutes against the expected-iterations baseline. Critical when
// progress is far below expectation past the stuck threshold, warning when
// there is zero progress past the warning threshold.
func (m *Monitor) CheckAllAgents(ctx context.Context) ([]Issue, error) {
	running, err := m.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var issues []Issue
	for _, run := range running {
		if run.StartedAt == nil {
			continue
		}
		elapsed := now.Sub(*run.StartedAt)
		expected := elapsed.Minutes() / float64(m.cfg.MinutesPerIteration)

		switch {
		case elapsed > m.cfg.StuckAfter && float64(run.IterationsCompleted) < expected*m.cfg.StuckRatio:
			issues = append(issues, Issue{
				Run:      run,
				Kind:     domain.AlertStuck,
				Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("%d iterations in %.0fm, expected about %.0f",
					run.IterationsCompleted, elapsed.Minutes(), expected),
				Context: fmt.Sprintf("planned=%d branch=%s", run.IterationsPlanned, run.Branch),
			})
		case run.IterationsCompleted == 0 && elapsed > m.cfg.WarningAfter:
			issues = append(issues, Issue{
				Run:      run,
				Kind:     domain.AlertSlowProgress,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("no iterations after %.0fm", elapsed.Minutes()),
				Context:  fmt.Sprintf("planned=%d branch=%s", run.IterationsPlanned, run.Branch),
			})
		}
	}
	return issues, nil
}

// DetectCrashedAgents flags running runs whose progress timestamp is stale
// past the crash threshold with zero completed iterations. This
// update-recency signal catches processes that died without the driver ever
// observing output. A dead recorded pid corroborates but does not decide.
func (m *Monitor) DetectCrashedAgents(ctx context.Context) ([]Issue, error) {
	running, err := m.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var issues []Issue
	for _, run := range running {
		age := run.ProgressAge(now)
		if age <= m.cfg.CrashAfter || run.IterationsCompleted > 0 {
			continue
		}
		context := fmt.Sprintf("last update %.0fm ago", age.Minutes())
		if run.PID > 0 && !m.alive(run.PID) {
			context += fmt.Sprintf(", pid %d is dead", run.PID)
		}
		issues = append(issues, Issue{
			Run:      run,
			Kind:     domain.AlertCrashed,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("presumed crashed: silent for %.0fm with no progress", age.Minutes()),
			Context:  context,
		})
	}
	return issues, nil
}

// RunHealthCheck unions both detectors, persists deduplicated alerts, and
// fans them out through every enabled channel best-effort.
func (m *Monitor) RunHealthCheck(ctx context.Context) (*Report, error) {
	running, err := m.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}

	rateIssues, err := m.CheckAllAgents(ctx)
	if err != nil {
		return nil, err
	}
	crashIssues, err := m.DetectCrashedAgents(ctx)
	if err != nil {
		return nil, err
	}

	// Crash classification wins when both detectors flag the same run.
	byRun := make(map[string]Issue)
	for _, issue := range rateIssues {
		byRun[issue.Run.ID] = issue
	}
	for _, issue := range crashIssues {
		byRun[issue.Run.ID] = issue
	}

	report := &Report{Checked: len(running)}
	for _, issue := range byRun {
		switch issue.Severity {
		case domain.SeverityCritical:
			report.Errors++
		default:
			report.Warnings++
		}

		since := time.Now().Add(-m.cfg.DedupeWindow)
		recent, err := m.store.HasRecentAlert(issue.Run.ID, issue.Kind, since)
		if err != nil {
			m.log.Warn("dedupe lookup failed", "run", issue.Run.ID, "error", err)
			continue
		}
		if recent {
			continue
		}

		alert := &domain.HealthAlert{
			RunID:     issue.Run.ID,
			ProjectID: issue.Run.ProjectID,
			Kind:      issue.Kind,
			Severity:  issue.Severity,
			Message:   issue.Message,
			Context:   issue.Context,
			CreatedAt: time.Now(),
		}
		if err := m.store.InsertAlert(alert); err != nil {
			m.log.Warn("alert insert failed", "run", issue.Run.ID, "error", err)
			continue
		}
		m.store.AppendWorkLog(issue.Run.ID, issue.Run.ProjectID, domain.EventHealthAlert,
			fmt.Sprintf("%s (%s): %s", issue.Kind, issue.Severity, issue.Message))
		report.Alerts = append(report.Alerts, alert)

		if err := m.notifier.Send(notify.Alert{
			Text:      issue.Message,
			Severity:  issue.Severity,
			Kind:      issue.Kind,
			ProjectID: issue.Run.ProjectID,
			RunID:     issue.Run.ID,
			Context:   issue.Context,
		}); err != nil {
			// Channel failures never affect run outcomes.
			m.log.Warn("alert dispatch failed", "run", issue.Run.ID, "error", err)
		}
	}

	report.Healthy = report.Checked - len(byRun)
	m.log.Info("health check complete", "checked", report.Checked,
		"healthy", report.Healthy, "warnings", report.Warnings, "errors", report.Errors)
	return report, nil
}
