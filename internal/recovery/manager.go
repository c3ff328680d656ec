package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/executor"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/health"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

// Driver executes and kills agent subprocesses
type Driver interface {
	Execute(ctx context.Context, run *domain.Run, project *domain.Project, maxIterations int) (*executor.Outcome, error)
	KillRunProcess(run *domain.Run) error
}

// Workspaces creates and removes run workspaces
type Workspaces interface {
	Path(projectID, runID string) string
	Create(ctx context.Context, projectPath, projectID, runID, branch string) (string, error)
	Remove(ctx context.Context, projectPath, path string) error
}

// Dispatch reports runs currently driven by an in-process dispatcher.
// Optional; one-shot CLI recovery has no dispatcher to consult.
type Dispatch interface {
	ExecutingRun(runID string) bool
}

// Monitor supplies the health classifications recovery acts on
type Monitor interface {
	CheckAllAgents(ctx context.Context) ([]health.Issue, error)
	DetectCrashedAgents(ctx context.Context) ([]health.Issue, error)
}

// Config holds the retry budget and backoff schedule
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Minute
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	return c
}

// Attempt reports one recovery attempt (or exhaustion) for a run
type Attempt struct {
	RunID   string
	Attempt int
	Success bool
	Err     error
}

// runState tracks recovery progress for one run between cycles
type runState struct {
	attempts    int
	lastAttempt time.Time
	backoff     time.Duration
	recovering  bool
}

// Manager drives bounded, backoff-scheduled recovery of stuck or crashed
// runs: kill the wedged process, reset the run preserving its progress, and
// re-run the driver with the remaining iteration budget. After the maximum
// attempts the run is marked permanently failed.
type Manager struct {
	store      *runstore.Store
	workspaces Workspaces
	driver     Driver
	monitor    Monitor
	cfg        Config
	log        *logging.Logger

	mu       sync.Mutex
	states   map[string]*runState
	dispatch Dispatch
}

// NewManager creates a recovery Manager
func NewManager(store *runstore.Store, workspaces Workspaces, driver Driver, monitor Monitor, cfg Config, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		store:      store,
		workspaces: workspaces,
		driver:     driver,
		monitor:    monitor,
		cfg:        cfg.withDefaults(),
		log:        log.WithComponent("recovery"),
		states:     make(map[string]*runState),
	}
}

// SetDispatch registers the dispatcher to consult before touching a run.
// In daemon mode the scheduler's executeOne goroutine may still be blocked
// on a stuck agent; killing that pid wakes the dispatcher, which owns the
// failure handling, so recovery must leave such runs alone.
func (m *Manager) SetDispatch(d Dispatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = d
}

func (m *Manager) dispatcherOwns(runID string) bool {
	m.mu.Lock()
	d := m.dispatch
	m.mu.Unlock()
	return d != nil && d.ExecutingRun(runID)
}

// CheckAndRecover runs the health detectors, filters to critical issues, and
// attempts recovery on each eligible run. The in-memory recovering flag is
// authoritative over any health classification: a run mid-recovery is never
// picked up twice, and a run a live dispatcher still drives is skipped
// entirely. Deferred runs (inside their backoff window) produce no
// Attempt entry.
func (m *Manager) CheckAndRecover(ctx context.Context) ([]Attempt, error) {
	rateIssues, err := m.monitor.CheckAllAgents(ctx)
	if err != nil {
		return nil, err
	}
	crashIssues, err := m.monitor.DetectCrashedAgents(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make(map[string]health.Issue)
	for _, issue := range append(rateIssues, crashIssues...) {
		if issue.Severity == domain.SeverityCritical {
			eligible[issue.Run.ID] = issue
		}
	}

	var attempts []Attempt
	for runID, issue := range eligible {
		run := issue.Run

		if m.dispatcherOwns(runID) {
			m.log.Debug("run owned by live dispatcher, skipping", "run", runID)
			continue
		}

		m.mu.Lock()
		st := m.states[runID]
		if st == nil {
			st = &runState{backoff: m.cfg.InitialBackoff}
			m.states[runID] = st
		}
		if st.recovering {
			m.mu.Unlock()
			continue
		}
		if st.attempts >= m.cfg.MaxAttempts {
			m.mu.Unlock()
			m.failPermanently(run, issue)
			m.clearState(runID)
			attempts = append(attempts, Attempt{
				RunID:   runID,
				Attempt: st.attempts,
				Success: false,
				Err:     domain.NewRunError(domain.ErrRecoveryExhausted, fmt.Sprintf("gave up after %d attempts", st.attempts), nil),
			})
			continue
		}
		if st.attempts > 0 && time.Since(st.lastAttempt) < st.backoff {
			m.mu.Unlock()
			continue
		}
		st.recovering = true
		st.attempts++
		st.lastAttempt = time.Now()
		attempt := st.attempts
		m.mu.Unlock()

		err := m.attemptRecovery(ctx, run, issue, attempt)
		attempts = append(attempts, Attempt{RunID: runID, Attempt: attempt, Success: err == nil, Err: err})

		if err == nil {
			m.clearState(runID)
			continue
		}
		if domain.IsFatalSetup(err) {
			// Setup failures are never retried.
			m.failRun(run, err)
			m.clearState(runID)
			continue
		}
		m.mu.Lock()
		st.recovering = false
		st.backoff = time.Duration(float64(st.backoff) * m.cfg.Multiplier)
		if st.backoff > m.cfg.MaxBackoff {
			st.backoff = m.cfg.MaxBackoff
		}
		m.mu.Unlock()
	}
	return attempts, nil
}

// attemptRecovery restarts one run in a fresh workspace with its remaining
// iteration budget. Cleanup is deferred and unconditional.
func (m *Manager) attemptRecovery(ctx context.Context, run *domain.Run, issue health.Issue, attempt int) error {
	log := m.log.WithRun(run.ID, run.ProjectID)
	log.Info("recovery attempt", "attempt", attempt, "max", m.cfg.MaxAttempts, "kind", issue.Kind)

	project, err := m.store.GetProject(run.ProjectID)
	if err != nil {
		return domain.NewRunError(domain.ErrFatalSetup, "loading project", err)
	}

	// Best-effort: the wedged process may be long dead.
	if err := m.driver.KillRunProcess(run); err != nil {
		log.Warn("process kill failed", "pid", run.PID, "error", err)
	}

	// A crashed process leaves its worktree on disk, and startup orphan
	// cleanup keeps it while the run still counts as active. Clear it or
	// the fresh Create below fails on the occupied path.
	stale := run.WorkspacePath
	if stale == "" {
		stale = m.workspaces.Path(run.ProjectID, run.ID)
	}
	if err := m.workspaces.Remove(ctx, project.Path, stale); err != nil {
		log.Warn("stale workspace removal failed", "path", stale, "error", err)
	}

	if err := m.store.ResetRunForRetry(run.ID, time.Now()); err != nil {
		return err
	}
	m.store.AppendWorkLog(run.ID, run.ProjectID, domain.EventRecoveryAttempted,
		fmt.Sprintf("attempt %d/%d for %s run", attempt, m.cfg.MaxAttempts, issue.Kind))

	// Reload to pick up the preserved progress counters.
	run, err = m.store.GetRun(run.ID)
	if err != nil {
		return err
	}

	path, err := m.workspaces.Create(ctx, project.Path, project.ID, run.ID, run.Branch)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.workspaces.Remove(ctx, project.Path, path); err != nil {
			log.Warn("workspace removal failed", "error", err)
		}
		m.store.UpdateRunWorkspace(run.ID, "")
	}()

	run.WorkspacePath = path
	m.store.UpdateRunWorkspace(run.ID, path)

	outcome, err := m.driver.Execute(ctx, run, project, run.RemainingIterations())
	if err != nil {
		// The run stays running so the next cycle can retry after backoff.
		m.store.AppendWorkLog(run.ID, run.ProjectID, domain.EventRunFailed,
			fmt.Sprintf("recovery attempt %d failed: %v", attempt, err))
		log.Warn("recovery attempt failed", "attempt", attempt, "error", err)
		return err
	}

	m.store.MarkRunCompleted(run.ID, outcome.ResultURL, time.Now())
	m.store.UpdatePRDStatus(run.PRDID, domain.PRDExecuted, outcome.ResultURL)
	m.store.AppendWorkLog(run.ID, run.ProjectID, domain.EventRunCompleted,
		fmt.Sprintf("recovered on attempt %d after %d iterations", attempt, outcome.Iterations))
	log.Info("run recovered", "attempt", attempt, "iterations", outcome.Iterations)
	return nil
}

// failPermanently marks a run failed for good after exhausting the budget
func (m *Manager) failPermanently(run *domain.Run, issue health.Issue) {
	msg := fmt.Sprintf("recovery exhausted after %d attempts (%s)", m.cfg.MaxAttempts, issue.Kind)
	m.failRun(run, domain.NewRunError(domain.ErrRecoveryExhausted, msg, nil))
}

func (m *Manager) failRun(run *domain.Run, cause error) {
	m.store.MarkRunFailed(run.ID, cause.Error(), time.Now())
	m.store.UpdatePRDStatus(run.PRDID, domain.PRDFailed, "")
	m.store.AppendWorkLog(run.ID, run.ProjectID, domain.EventRunFailed, cause.Error())
	m.log.WithRun(run.ID, run.ProjectID).Error("run permanently failed", "error", cause)
}

func (m *Manager) clearState(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, runID)
}

// backoffFor returns the current backoff interval for a run, zero when no
// state is held.
func (m *Manager) backoffFor(runID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[runID]; ok {
		return st.backoff
	}
	return 0
}
