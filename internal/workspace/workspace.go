package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// Manager materializes one isolated git worktree per run under
// {root}/{projectID}/{runID}. Exactly one run ever uses a workspace.
type Manager struct {
	root string
}

// NewManager creates a Manager rooted at the configured workspace directory
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Path returns the workspace path for a run without creating anything
func (m *Manager) Path(projectID, runID string) string {
	return filepath.Join(m.root, projectID, runID)
}

// Create materializes a worktree for the run on the given branch. A new
// branch is attempted first; if one of that name already exists (a retry of
// the same PRD) the existing branch is attached instead. Any other git
// failure is fatal to the run.
func (m *Manager) Create(ctx context.Context, projectPath, projectID, runID, branch string) (string, error) {
	path := m.Path(projectID, runID)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", domain.NewRunError(domain.ErrFatalSetup, "creating workspace dir", err)
	}

	// Stale registrations from a crashed process would block the add.
	prune := exec.CommandContext(ctx, "git", "worktree", "prune")
	prune.Dir = projectPath
	prune.Run()

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = projectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		if !strings.Contains(string(out), "already exists") {
			return "", domain.NewRunError(domain.ErrFatalSetup,
				fmt.Sprintf("git worktree add: %s", strings.TrimSpace(string(out))), err)
		}
		// Branch exists; attach it instead of creating.
		cmd = exec.CommandContext(ctx, "git", "worktree", "add", path, branch)
		cmd.Dir = projectPath
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", domain.NewRunError(domain.ErrFatalSetup,
				fmt.Sprintf("git worktree add existing branch: %s", strings.TrimSpace(string(out))), err)
		}
	}

	return path, nil
}

// Remove detaches and deletes a workspace. "Already gone" counts as success
// so crash-recovery paths can call it unconditionally.
func (m *Manager) Remove(ctx context.Context, projectPath, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = projectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := string(out)
		if !strings.Contains(msg, "is not a working tree") &&
			!strings.Contains(msg, "No such file") {
			return fmt.Errorf("git worktree remove: %s: %w", strings.TrimSpace(msg), err)
		}
	}

	prune := exec.CommandContext(ctx, "git", "worktree", "prune")
	prune.Dir = projectPath
	prune.Run()

	// The detach can leave residue (untracked build output etc).
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing workspace residue: %w", err)
		}
	}
	return nil
}

// CleanupOrphaned removes every workspace directory for the project whose
// run id is not in the active set, and returns the removed run ids. Nothing
// in memory survives a restart, so the caller must supply the set of runs
// persisted as running.
func (m *Manager) CleanupOrphaned(ctx context.Context, projectPath, projectID string, activeRunIDs map[string]bool) ([]string, error) {
	projectRoot := filepath.Join(m.root, projectID)
	entries, err := os.ReadDir(projectRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		if activeRunIDs[runID] {
			continue
		}
		path := filepath.Join(projectRoot, runID)
		if err := m.Remove(ctx, projectPath, path); err != nil {
			// Worktree metadata may be gone entirely; force-delete the dir.
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("force-deleting orphan %s: %w", runID, err)
			}
		}
		removed = append(removed, runID)
	}
	return removed, nil
}

// List returns the worktree paths git knows about under this manager's root
func (m *Manager) List(ctx context.Context, projectPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "list", "--porcelain")
	cmd.Dir = projectPath
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			if strings.HasPrefix(path, m.root) {
				paths = append(paths, path)
			}
		}
	}
	return paths, nil
}
