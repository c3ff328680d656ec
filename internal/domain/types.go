package domain

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// PRDStatus represents the lifecycle state of an approved work unit
type PRDStatus string

const (
	PRDApproved  PRDStatus = "approved"
	PRDExecuting PRDStatus = "executing"
	PRDExecuted  PRDStatus = "executed"
	PRDFailed    PRDStatus = "failed"
)

// AlertKind classifies a health finding
type AlertKind string

const (
	AlertStuck        AlertKind = "stuck"
	AlertCrashed      AlertKind = "crashed"
	AlertSlowProgress AlertKind = "slow-progress"
)

// AlertSeverity ranks a health finding
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Work log event names written on run state transitions
const (
	EventRunStarted        = "run_started"
	EventRunCompleted      = "run_completed"
	EventRunFailed         = "run_failed"
	EventRecoveryAttempted = "recovery_attempted"
	EventRunMarkedStale    = "run_marked_stale"
	EventHealthAlert       = "health_alert"
	EventWorkspaceCleanup  = "workspace_cleanup"
	EventPRDImported       = "prd_imported"
)
