package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/approval"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/daemon"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/web/api"
)

var daemonServe bool

func init() {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduling, health and recovery cycles on their cron schedules",
		RunE:  runDaemon,
	}
	daemonCmd.Flags().BoolVar(&daemonServe, "serve", false, "also start the web API")
	rootCmd.AddCommand(daemonCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only web API",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := newLogger(cfg)
	driver := buildDriver(cfg, store, log)
	defer driver.Close()
	orch := buildOrchestrator(cfg, store, driver, log)
	monitor := buildMonitor(cfg, store, log)
	manager := buildRecovery(cfg, store, driver, monitor, log)
	manager.SetDispatch(orch)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Startup(ctx); err != nil {
		return err
	}

	importer := approval.NewImporter(store, log)
	if _, err := importer.ImportAll(); err != nil {
		log.Error("initial import failed", "error", err)
	}

	watcher, err := approval.NewWatcher(func(projectID string) {
		project, err := store.GetProject(projectID)
		if err != nil {
			log.Error("import callback", "project", projectID, "error", err)
			return
		}
		if _, err := importer.ImportProject(project); err != nil {
			log.Error("import callback", "project", projectID, "error", err)
		}
	}, log)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	projects, err := store.ListProjects()
	if err != nil {
		return err
	}
	for _, project := range projects {
		if err := watcher.AddProject(project); err != nil {
			log.Warn("watch failed", "project", project.ID, "error", err)
		}
	}
	go watcher.Start(ctx)

	if daemonServe {
		server := api.NewServer(store, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port), log)
		orch.SetEventFunc(func(event string, run *domain.Run) {
			server.Broadcast(api.Event{Type: event, Data: run})
		})
		go func() {
			if err := server.Start(); err != nil {
				log.Error("web server stopped", "error", err)
			}
		}()
	}

	d, err := daemon.New([]daemon.Cycle{
		{
			Name: "schedule",
			Cron: cfg.Daemon.ScheduleCron,
			Run: func(ctx context.Context) error {
				selected, err := orch.ScheduleApproved(ctx)
				if err != nil {
					return err
				}
				if len(selected) > 0 {
					orch.ExecuteRuns(ctx, selected)
				}
				return nil
			},
		},
		{
			Name: "health",
			Cron: cfg.Daemon.HealthCron,
			Run: func(ctx context.Context) error {
				_, err := monitor.RunHealthCheck(ctx)
				return err
			},
		},
		{
			Name: "recovery",
			Cron: cfg.Daemon.RecoveryCron,
			Run: func(ctx context.Context) error {
				_, err := manager.CheckAndRecover(ctx)
				return err
			},
		},
	}, log)
	if err != nil {
		return err
	}

	log.Info("daemon started", "cycles", d.Cycles())
	d.Start(ctx)
	log.Info("daemon stopped")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := newLogger(cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	log.Info("serving web API", "addr", addr)
	return api.NewServer(store, addr, log).Start()
}
