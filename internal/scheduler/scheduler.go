package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/executor"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
	"golang.org/x/sync/errgroup"
)

// RunDriver executes one agent subprocess for a run
type RunDriver interface {
	Execute(ctx context.Context, run *domain.Run, project *domain.Project, maxIterations int) (*executor.Outcome, error)
}

// Workspaces is the workspace manager surface the scheduler drives
type Workspaces interface {
	Create(ctx context.Context, projectPath, projectID, runID, branch string) (string, error)
	Remove(ctx context.Context, projectPath, path string) error
	CleanupOrphaned(ctx context.Context, projectPath, projectID string, activeRunIDs map[string]bool) ([]string, error)
}

// Scheduled pairs a created run with the project and PRD it executes
type Scheduled struct {
	Project *domain.Project
	PRD     *domain.PRD
	Run     *domain.Run
}

// Result is the outcome of one executed run
type Result struct {
	Success bool
	Err     error
}

// RunningStatus is one row of the live fleet view
type RunningStatus struct {
	ProjectID   string
	ProjectName string
	RunID       string
	Branch      string
	Iterations  int
	Planned     int
	StartedAt   *time.Time
}

// EventFunc receives run transition events for live observers
type EventFunc func(event string, run *domain.Run)

// Orchestrator selects approved PRDs under the concurrency ceilings, creates
// runs, and drives each through workspace creation, execution, and cleanup.
// The in-memory reservation set is the sole concurrency primitive; it is
// process-local and must be rebuilt from persisted running runs on restart.
type Orchestrator struct {
	store      *runstore.Store
	workspaces Workspaces
	driver     RunDriver
	log        *logging.Logger

	globalLimit int

	mu           sync.Mutex
	reservations map[string]string // projectID -> runID
	executing    map[string]bool   // runIDs with a live executeOne goroutine
	onEvent      EventFunc
}

// NewOrchestrator creates an Orchestrator with an empty reservation set.
// Call Startup before scheduling after a process restart.
func NewOrchestrator(store *runstore.Store, workspaces Workspaces, driver RunDriver, globalLimit int, log *logging.Logger) *Orchestrator {
	if globalLimit <= 0 {
		globalLimit = 3
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Orchestrator{
		store:        store,
		workspaces:   workspaces,
		driver:       driver,
		log:          log.WithComponent("scheduler"),
		globalLimit:  globalLimit,
		reservations: make(map[string]string),
		executing:    make(map[string]bool),
	}
}

// SetEventFunc registers a hook invoked on run transitions (started,
// completed, failed). Used by the web server's live event stream.
func (o *Orchestrator) SetEventFunc(fn EventFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

func (o *Orchestrator) emit(event string, run *domain.Run) {
	o.mu.Lock()
	fn := o.onEvent
	o.mu.Unlock()
	if fn != nil {
		fn(event, run)
	}
}

// reserve acquires the per-project slot for a run
func (o *Orchestrator) reserve(projectID, runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, taken := o.reservations[projectID]; taken {
		return false
	}
	o.reservations[projectID] = runID
	return true
}

// release frees the slot, but only when the run still owns it
func (o *Orchestrator) release(projectID, runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reservations[projectID] == runID {
		delete(o.reservations, projectID)
	}
}

// Reserved reports whether a project currently holds a reservation
func (o *Orchestrator) Reserved(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, taken := o.reservations[projectID]
	return taken
}

// ExecutingRun reports whether this process has a live executeOne goroutine
// driving the run. Rebuilt reservations after a restart do not count; only
// an actual in-flight dispatch does. Recovery consults this before killing
// a run's process.
func (o *Orchestrator) ExecutingRun(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executing[runID]
}

// RebuildReservations reconstructs the reservation set from all persisted
// running runs. A restart loses the in-memory set while the persisted status
// still says running; rebuilding first keeps the one-run-per-project
// invariant across the restart.
func (o *Orchestrator) RebuildReservations(ctx context.Context) error {
	running, err := o.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return fmt.Errorf("loading running runs: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.reservations = make(map[string]string)
	for _, run := range running {
		o.reservations[run.ProjectID] = run.ID
	}
	o.log.Info("reservations rebuilt", "count", len(o.reservations))
	return nil
}

// Startup rebuilds reservations and removes orphaned workspaces across all
// projects. Every entry point that schedules or executes calls this first.
func (o *Orchestrator) Startup(ctx context.Context) error {
	if err := o.RebuildReservations(ctx); err != nil {
		return err
	}

	projects, err := o.store.ListProjects()
	if err != nil {
		return err
	}
	for _, project := range projects {
		active, err := o.store.ActiveRunIDs(project.ID)
		if err != nil {
			return err
		}
		removed, err := o.workspaces.CleanupOrphaned(ctx, project.Path, project.ID, active)
		if err != nil {
			o.log.Warn("orphan cleanup failed", "project", project.ID, "error", err)
			continue
		}
		if len(removed) > 0 {
			o.log.Info("orphaned workspaces removed", "project", project.ID, "runs", removed)
			o.store.AppendWorkLog("", project.ID, domain.EventWorkspaceCleanup,
				fmt.Sprintf("removed %d orphaned workspaces: %s", len(removed), strings.Join(removed, ", ")))
		}
	}
	return nil
}

// ScheduleApproved scans approved PRDs in descending risk-score order and
// creates a pending run for each selectable one. A PRD is skipped when its
// project already has a running run or is already selected in this batch;
// selection stops entirely at the global ceiling. No reordering for
// fairness.
func (o *Orchestrator) ScheduleApproved(ctx context.Context) ([]Scheduled, error) {
	prds, err := o.store.ListApprovedPRDs()
	if err != nil {
		return nil, fmt.Errorf("loading approved PRDs: %w", err)
	}

	running, err := o.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}
	runningByProject := make(map[string]int)
	for _, run := range running {
		runningByProject[run.ProjectID]++
	}

	var selected []Scheduled
	selectedProjects := make(map[string]bool)

	for _, prd := range prds {
		if len(running)+len(selected) >= o.globalLimit {
			break
		}
		if selectedProjects[prd.ProjectID] {
			continue
		}
		// One run per project: the reservation set holds a single slot per
		// project, so a MaxConcurrentRuns above 1 still caps at one.
		if runningByProject[prd.ProjectID] > 0 || o.Reserved(prd.ProjectID) {
			continue
		}

		project, err := o.store.GetProject(prd.ProjectID)
		if err != nil {
			o.log.Warn("PRD references unknown project", "prd", prd.ID, "project", prd.ProjectID)
			continue
		}

		run := &domain.Run{
			ID:                uuid.NewString(),
			ProjectID:         project.ID,
			PRDID:             prd.ID,
			Branch:            branchFor(prd),
			Status:            domain.RunPending,
			IterationsPlanned: prd.PlannedIterations(project),
		}
		if err := o.store.CreateRun(run); err != nil {
			return selected, fmt.Errorf("creating run for %s: %w", prd.ID, err)
		}
		if err := o.store.UpdatePRDStatus(prd.ID, domain.PRDExecuting, ""); err != nil {
			return selected, err
		}
		o.store.AppendWorkLog(run.ID, project.ID, domain.EventRunStarted,
			fmt.Sprintf("scheduled for PRD %s (risk %.2f)", prd.ID, prd.RiskScore))

		selected = append(selected, Scheduled{Project: project, PRD: prd, Run: run})
		selectedProjects[prd.ProjectID] = true
	}

	o.log.Info("scheduling pass complete", "approved", len(prds), "selected", len(selected))
	return selected, nil
}

// ExecuteRuns launches all selected runs concurrently and collects results
// keyed by run id. Each run's workspace removal and reservation release are
// guaranteed regardless of outcome; a failing run never aborts its siblings.
func (o *Orchestrator) ExecuteRuns(ctx context.Context, selected []Scheduled) map[string]Result {
	results := make(map[string]Result, len(selected))
	var resultsMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, item := range selected {
		g.Go(func() error {
			err := o.executeOne(ctx, item)
			resultsMu.Lock()
			results[item.Run.ID] = Result{Success: err == nil, Err: err}
			resultsMu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// executeOne drives a single run end to end
func (o *Orchestrator) executeOne(ctx context.Context, item Scheduled) error {
	run, project, prd := item.Run, item.Project, item.PRD
	log := o.log.WithRun(run.ID, project.ID)

	if !o.reserve(project.ID, run.ID) {
		err := fmt.Errorf("project %s already has a running run", project.ID)
		o.failRun(run, prd, err)
		return err
	}
	defer o.release(project.ID, run.ID)

	o.mu.Lock()
	o.executing[run.ID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.executing, run.ID)
		o.mu.Unlock()
	}()

	path, err := o.workspaces.Create(ctx, project.Path, project.ID, run.ID, run.Branch)
	if err != nil {
		log.Error("workspace creation failed", "error", err)
		o.failRun(run, prd, err)
		return err
	}
	defer func() {
		if err := o.workspaces.Remove(ctx, project.Path, path); err != nil {
			log.Warn("workspace removal failed", "error", err)
		}
		o.store.UpdateRunWorkspace(run.ID, "")
	}()

	run.WorkspacePath = path
	o.store.UpdateRunWorkspace(run.ID, path)
	now := time.Now()
	o.store.MarkRunStarted(run.ID, now)
	run.Status = domain.RunRunning
	run.StartedAt = &now
	o.emit("run_started", run)

	outcome, err := o.driver.Execute(ctx, run, project, run.IterationsPlanned)
	if err != nil {
		log.Error("run failed", "error", err, "iterations", outcome.Iterations)
		o.failRun(run, prd, err)
		return err
	}

	o.store.MarkRunCompleted(run.ID, outcome.ResultURL, time.Now())
	o.store.UpdatePRDStatus(prd.ID, domain.PRDExecuted, outcome.ResultURL)
	o.store.AppendWorkLog(run.ID, project.ID, domain.EventRunCompleted,
		fmt.Sprintf("completed after %d iterations, %d stories", outcome.Iterations, outcome.Stories))
	run.Status = domain.RunCompleted
	o.emit("run_completed", run)
	log.Info("run completed", "iterations", outcome.Iterations, "stories", outcome.Stories, "result", outcome.ResultURL)
	return nil
}

// failRun converts an error into the run/PRD failure updates. Errors here
// stay at the per-run boundary; they never propagate to sibling runs.
func (o *Orchestrator) failRun(run *domain.Run, prd *domain.PRD, cause error) {
	o.store.MarkRunFailed(run.ID, cause.Error(), time.Now())
	o.store.UpdatePRDStatus(prd.ID, domain.PRDFailed, "")
	o.store.AppendWorkLog(run.ID, run.ProjectID, domain.EventRunFailed, cause.Error())
	run.Status = domain.RunFailed
	run.ErrorMessage = cause.Error()
	o.emit("run_failed", run)
}

// GetRunningStatus returns one row per currently running run
func (o *Orchestrator) GetRunningStatus(ctx context.Context) ([]RunningStatus, error) {
	running, err := o.store.ListRunsByStatus(domain.RunRunning)
	if err != nil {
		return nil, err
	}

	statuses := make([]RunningStatus, 0, len(running))
	for _, run := range running {
		name := run.ProjectID
		if project, err := o.store.GetProject(run.ProjectID); err == nil {
			name = project.Name
		}
		statuses = append(statuses, RunningStatus{
			ProjectID:   run.ProjectID,
			ProjectName: name,
			RunID:       run.ID,
			Branch:      run.Branch,
			Iterations:  run.IterationsCompleted,
			Planned:     run.IterationsPlanned,
			StartedAt:   run.StartedAt,
		})
	}
	return statuses, nil
}

// branchFor derives the run branch from the PRD hint, defaulting to a
// generated agent branch name.
func branchFor(prd *domain.PRD) string {
	if prd.BranchHint != "" {
		return prd.BranchHint
	}
	return fmt.Sprintf("agent/%s-%s", prd.ID, uuid.NewString()[:8])
}
