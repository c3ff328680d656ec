package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/approval"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/workspace"
)

var (
	staleMinutes int
	staleFail    bool
	logsLimit    int
	logsPrune    int
)

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Select approved work units for execution without running them",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule approved work units and execute them to completion",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show running agents and the approved queue",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Run one health check over all running agents",
		RunE:  runHealth,
	}
	rootCmd.AddCommand(healthCmd)

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Run one recovery sweep over unhealthy runs",
		RunE:  runRecover,
	}
	rootCmd.AddCommand(recoverCmd)

	staleCmd := &cobra.Command{
		Use:   "stale",
		Short: "List runs without recent progress",
		RunE:  runStale,
	}
	staleCmd.Flags().IntVar(&staleMinutes, "minutes", 30, "staleness threshold in minutes")
	staleCmd.Flags().BoolVar(&staleFail, "fail", false, "mark stale runs as failed")
	rootCmd.AddCommand(staleCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned workspaces across all projects",
		RunE:  runCleanup,
	}
	rootCmd.AddCommand(cleanupCmd)

	importCmd := &cobra.Command{
		Use:   "import [DIR]",
		Short: "Import PRD manifests, from all projects or one directory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	logsCmd := &cobra.Command{
		Use:   "logs [RUN_ID]",
		Short: "Show the work log of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum entries to show")
	logsCmd.Flags().IntVar(&logsPrune, "prune", 0, "delete entries older than N days instead")
	rootCmd.AddCommand(logsCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := logging.NewNop()
	driver := buildDriver(cfg, store, log)
	defer driver.Close()
	orch := buildOrchestrator(cfg, store, driver, log)

	ctx := cmd.Context()
	if err := orch.Startup(ctx); err != nil {
		return err
	}

	selected, err := orch.ScheduleApproved(ctx)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		fmt.Println("Nothing to schedule")
		return nil
	}

	fmt.Printf("Scheduled %d runs:\n", len(selected))
	for _, s := range selected {
		fmt.Printf("  %s  %s  %s (risk %.2f, %d iterations)\n",
			s.Run.ID[:8], s.Project.ID, s.PRD.Title, s.PRD.RiskScore, s.Run.IterationsPlanned)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
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

	ctx := cmd.Context()
	if err := orch.Startup(ctx); err != nil {
		return err
	}

	selected, err := orch.ScheduleApproved(ctx)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		fmt.Println("Nothing to run")
		return nil
	}

	fmt.Printf("Executing %d runs\n", len(selected))
	results := orch.ExecuteRuns(ctx, selected)

	failed := 0
	for runID, result := range results {
		if result.Success {
			fmt.Printf("  %s completed\n", runID[:8])
		} else {
			failed++
			fmt.Printf("  %s failed: %v\n", runID[:8], result.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := logging.NewNop()
	driver := buildDriver(cfg, store, log)
	defer driver.Close()
	orch := buildOrchestrator(cfg, store, driver, log)

	running, err := orch.GetRunningStatus(cmd.Context())
	if err != nil {
		return err
	}

	if len(running) == 0 {
		fmt.Println("No agents running")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPROJECT\tBRANCH\tITERATIONS\tSTARTED")
		for _, r := range running {
			started := "-"
			if r.StartedAt != nil {
				started = humanize.Time(*r.StartedAt)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				r.RunID[:8], r.ProjectID, r.Branch, r.Iterations, r.Planned, started)
		}
		w.Flush()
	}

	approved, err := store.ListApprovedPRDs()
	if err != nil {
		return err
	}
	fmt.Printf("\nQueue: %d approved work units\n", len(approved))
	for _, prd := range approved {
		fmt.Printf("  %s  %s  risk %.2f\n", prd.ProjectID, prd.Title, prd.RiskScore)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := buildMonitor(cfg, store, newLogger(cfg))
	report, err := monitor.RunHealthCheck(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d agents: %d healthy, %d warnings, %d errors\n",
		report.Checked, report.Healthy, report.Warnings, report.Errors)
	for _, alert := range report.Alerts {
		fmt.Printf("  [%s] %s run %s: %s\n", alert.Severity, alert.Kind, alert.RunID[:8], alert.Message)
	}
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
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
	monitor := buildMonitor(cfg, store, log)
	manager := buildRecovery(cfg, store, driver, monitor, log)

	attempts, err := manager.CheckAndRecover(cmd.Context())
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("Nothing to recover")
		return nil
	}

	for _, a := range attempts {
		if a.Success {
			fmt.Printf("  %s recovered on attempt %d\n", a.RunID[:8], a.Attempt)
		} else {
			fmt.Printf("  %s attempt %d failed: %v\n", a.RunID[:8], a.Attempt, a.Err)
		}
	}
	return nil
}

func runStale(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if staleFail {
		marked, err := store.MarkStaleRunsAsFailed(staleMinutes)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d stale runs as failed\n", len(marked))
		for _, run := range marked {
			fmt.Printf("  %s  %s  silent for %s\n",
				run.ID[:8], run.ProjectID, run.ProgressAge(time.Now()).Round(time.Minute))
		}
		return nil
	}

	stale, err := store.GetStaleRuns(staleMinutes)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Println("No stale runs")
		return nil
	}
	for _, run := range stale {
		fmt.Printf("  %s  %s  silent for %s (retry %d)\n",
			run.ID[:8], run.ProjectID, run.ProgressAge(time.Now()).Round(time.Minute), run.RetryCount)
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	projects, err := store.ListProjects()
	if err != nil {
		return err
	}

	workspaces := workspace.NewManager(cfg.General.WorkspaceRoot)
	ctx := cmd.Context()
	total := 0
	for _, project := range projects {
		active, err := store.ActiveRunIDs(project.ID)
		if err != nil {
			return err
		}
		removed, err := workspaces.CleanupOrphaned(ctx, project.Path, project.ID, active)
		if err != nil {
			fmt.Printf("  %s: %v\n", project.ID, err)
			continue
		}
		for _, path := range removed {
			store.AppendWorkLog("", project.ID, domain.EventWorkspaceCleanup, path)
		}
		total += len(removed)
	}
	fmt.Printf("Removed %d orphaned workspaces\n", total)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	importer := approval.NewImporter(store, newLogger(cfg))

	var imported []*domain.PRD
	if len(args) == 1 {
		imported, err = importer.ImportDir(args[0], "")
	} else {
		imported, err = importer.ImportAll()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d approved work units\n", len(imported))
	for _, prd := range imported {
		fmt.Printf("  %s  %s  %s\n", prd.ID, prd.ProjectID, prd.Title)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if logsPrune > 0 {
		cutoff := time.Now().AddDate(0, 0, -logsPrune)
		n, err := store.PruneWorkLog(cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d work log entries older than %d days\n", n, logsPrune)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("run ID required (or use --prune)")
	}

	entries, err := store.ListWorkLogForRun(args[0], logsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No log entries")
		return nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s  %-20s %s\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.Message)
	}
	return nil
}
