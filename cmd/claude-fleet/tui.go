package main

import (
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
	"github.com/hochfrequenz/claude-fleet-orchestrator/tui"
)

func init() {
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive fleet dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fetch := func() (tui.Snapshot, error) {
		return fetchSnapshot(store, cfg.General.MaxConcurrentRuns)
	}
	initial, err := fetch()
	if err != nil {
		return err
	}

	program := tea.NewProgram(tui.NewModel(fetch, initial), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func fetchSnapshot(store *runstore.Store, maxActive int) (tui.Snapshot, error) {
	var snap tui.Snapshot
	snap.MaxActive = maxActive

	var err error
	if snap.Projects, err = store.ListProjects(); err != nil {
		return snap, err
	}
	if snap.Approved, err = store.ListApprovedPRDs(); err != nil {
		return snap, err
	}
	if snap.Running, err = store.ListRunsByStatus(domain.RunRunning); err != nil {
		return snap, err
	}

	completed, err := store.ListRunsByStatus(domain.RunCompleted)
	if err != nil {
		return snap, err
	}
	failed, err := store.ListRunsByStatus(domain.RunFailed)
	if err != nil {
		return snap, err
	}
	snap.Recent = recentRuns(append(completed, failed...), 20)

	snap.Alerts, err = store.ListRecentAlerts(20)
	return snap, err
}

// recentRuns keeps the n most recently finished runs, newest first
func recentRuns(runs []*domain.Run, n int) []*domain.Run {
	sorted := make([]*domain.Run, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].CompletedAt, sorted[j].CompletedAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
