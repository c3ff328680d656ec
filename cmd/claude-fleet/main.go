package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "claude-fleet",
		Short: "Claude Fleet Orchestrator - autonomous agent fleet manager",
		Long: `Claude Fleet Orchestrator coordinates autonomous coding agents across
multiple repositories. It schedules approved work units under concurrency
limits, isolates each run in a git worktree, watches agent liveness, and
recovers stuck or crashed runs with bounded retries.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
