package main

import (
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/executor"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/health"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/recovery"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/workspace"
)

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	return runstore.New(cfg.General.DatabasePath)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	channels := []notify.Notifier{notify.NewConsoleNotifier(nil)}
	if cfg.Health.AlertLogPath != "" {
		channels = append(channels, notify.NewFileNotifier(cfg.Health.AlertLogPath))
	}
	if cfg.Notifications.Desktop {
		channels = append(channels, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookNotifier(cfg.Notifications.WebhookURL))
	}
	return notify.NewMultiNotifier(channels...)
}

func buildDriver(cfg *config.Config, store *runstore.Store, log *logging.Logger) *executor.Driver {
	return executor.NewDriver(store, executor.Config{
		Tool:           cfg.Agent.Tool,
		SilenceTimeout: cfg.Agent.SilenceTimeout,
		KillGrace:      cfg.Agent.KillGrace,
	}, log)
}

func buildOrchestrator(cfg *config.Config, store *runstore.Store, driver *executor.Driver, log *logging.Logger) *scheduler.Orchestrator {
	workspaces := workspace.NewManager(cfg.General.WorkspaceRoot)
	return scheduler.NewOrchestrator(store, workspaces, driver, cfg.General.MaxConcurrentRuns, log)
}

func buildMonitor(cfg *config.Config, store *runstore.Store, log *logging.Logger) *health.Monitor {
	return health.NewMonitor(store, health.Config{
		MinutesPerIteration: cfg.Health.MinutesPerIteration,
		WarningAfter:        cfg.Health.WarningAfter,
		StuckAfter:          cfg.Health.StuckAfter,
		StuckRatio:          cfg.Health.StuckRatio,
		CrashAfter:          cfg.Health.CrashAfter,
		DedupeWindow:        cfg.Health.DedupeWindow,
	}, buildNotifier(cfg), log)
}

func buildRecovery(cfg *config.Config, store *runstore.Store, driver *executor.Driver, monitor *health.Monitor, log *logging.Logger) *recovery.Manager {
	workspaces := workspace.NewManager(cfg.General.WorkspaceRoot)
	return recovery.NewManager(store, workspaces, driver, monitor, recovery.Config{
		MaxAttempts:    cfg.Recovery.MaxAttempts,
		InitialBackoff: cfg.Recovery.InitialBackoff,
		Multiplier:     cfg.Recovery.Multiplier,
		MaxBackoff:     cfg.Recovery.MaxBackoff,
	}, log)
}
