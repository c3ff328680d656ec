package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

var (
	projectID         string
	projectName       string
	projectPath       string
	projectIterations int
	projectTool       string
	projectMaxRuns    int
)

func init() {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage registered projects",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a project or update its settings",
		RunE:  runProjectsAdd,
	}
	addCmd.Flags().StringVar(&projectID, "id", "", "project identifier")
	addCmd.Flags().StringVar(&projectName, "name", "", "display name (defaults to the id)")
	addCmd.Flags().StringVar(&projectPath, "path", "", "path to the repository checkout")
	addCmd.Flags().IntVar(&projectIterations, "iterations", 0, "default iteration budget")
	addCmd.Flags().StringVar(&projectTool, "tool", "", "agent tool override for this project")
	addCmd.Flags().IntVar(&projectMaxRuns, "max-runs", 0, "per-project concurrent run limit")
	addCmd.MarkFlagRequired("id")
	addCmd.MarkFlagRequired("path")
	projectsCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE:  runProjectsList,
	}
	projectsCmd.AddCommand(listCmd)

	rootCmd.AddCommand(projectsCmd)
}

func runProjectsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return err
	}
	if info, err := os.Stat(absPath); err != nil || !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", absPath)
	}

	name := projectName
	if name == "" {
		name = projectID
	}

	project := &domain.Project{
		ID:                projectID,
		Name:              name,
		Path:              absPath,
		MaxConcurrentRuns: projectMaxRuns,
		DefaultIterations: projectIterations,
		AgentTool:         projectTool,
		CreatedAt:         time.Now(),
	}
	if err := store.UpsertProject(project); err != nil {
		return err
	}
	fmt.Printf("Registered project %s at %s\n", projectID, absPath)
	return nil
}

func runProjectsList(cmd *cobra.Command, args []string) error {
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
	if len(projects) == 0 {
		fmt.Println("No projects registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tITERATIONS\tMAX RUNS\tTOOL")
	for _, p := range projects {
		iterations := "-"
		if p.DefaultIterations > 0 {
			iterations = fmt.Sprintf("%d", p.DefaultIterations)
		}
		maxRuns := "global"
		if p.MaxConcurrentRuns > 0 {
			maxRuns = fmt.Sprintf("%d", p.MaxConcurrentRuns)
		}
		tool := p.AgentTool
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Path, iterations, maxRuns, tool)
	}
	return w.Flush()
}
