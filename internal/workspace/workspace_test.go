package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"git", "init"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}

	readme := filepath.Join(dir, "README.md")
	os.WriteFile(readme, []byte("# Test"), 0644)

	cmd := exec.Command("git", "add", ".")
	cmd.Dir = dir
	cmd.Run()

	cmd = exec.Command("git", "commit", "-m", "Initial commit")
	cmd.Dir = dir
	cmd.Run()

	return dir
}

func TestCreateAndRemove(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	path, err := mgr.Create(ctx, repo, "alpha", "run-1", "agent/prd-1")
	if err != nil {
		t.Fatal(err)
	}
	if path != mgr.Path("alpha", "run-1") {
		t.Errorf("path = %q, want %q", path, mgr.Path("alpha", "run-1"))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("workspace directory not created")
	}

	cmd := exec.Command("git", "branch", "--list", "agent/prd-1")
	cmd.Dir = repo
	out, _ := cmd.Output()
	if len(out) == 0 {
		t.Error("branch agent/prd-1 not created")
	}

	if err := mgr.Remove(ctx, repo, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("workspace directory still exists after remove")
	}
}

func TestCreateAttachesExistingBranch(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	// First run creates the branch.
	path1, err := mgr.Create(ctx, repo, "alpha", "run-1", "agent/prd-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Remove(ctx, repo, path1); err != nil {
		t.Fatal(err)
	}

	// A retry of the same PRD reuses the branch instead of failing.
	path2, err := mgr.Create(ctx, repo, "alpha", "run-2", "agent/prd-1")
	if err != nil {
		t.Fatalf("create with existing branch: %v", err)
	}
	if _, err := os.Stat(path2); err != nil {
		t.Fatal("retry workspace not created")
	}
}

func TestRemoveAlreadyGone(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())

	err := mgr.Remove(context.Background(), repo, mgr.Path("alpha", "never-created"))
	if err != nil {
		t.Errorf("removing a missing workspace should succeed, got %v", err)
	}
}

func TestCleanupOrphaned(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		if _, err := mgr.Create(ctx, repo, "alpha", runID, "agent/"+runID); err != nil {
			t.Fatal(err)
		}
	}

	active := map[string]bool{"run-2": true}
	removed, err := mgr.CleanupOrphaned(ctx, repo, "alpha", active)
	if err != nil {
		t.Fatal(err)
	}

	sort.Strings(removed)
	if len(removed) != 2 || removed[0] != "run-1" || removed[1] != "run-3" {
		t.Errorf("removed = %v, want [run-1 run-3]", removed)
	}

	if _, err := os.Stat(mgr.Path("alpha", "run-2")); err != nil {
		t.Error("active workspace run-2 was removed")
	}
	for _, runID := range []string{"run-1", "run-3"} {
		if _, err := os.Stat(mgr.Path("alpha", runID)); !os.IsNotExist(err) {
			t.Errorf("orphan %s still exists", runID)
		}
	}
}

func TestCleanupOrphanedForceDeletesResidue(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	// A directory git never knew about, left behind by a crash.
	stray := mgr.Path("alpha", "run-dead")
	if err := os.MkdirAll(stray, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(stray, "leftover.txt"), []byte("x"), 0644)

	removed, err := mgr.CleanupOrphaned(ctx, repo, "alpha", map[string]bool{})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "run-dead" {
		t.Errorf("removed = %v, want [run-dead]", removed)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray directory survived cleanup")
	}
}

func TestCleanupOrphanedMissingRoot(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())

	removed, err := mgr.CleanupOrphaned(context.Background(), repo, "never-seen", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
}

func TestList(t *testing.T) {
	repo := setupGitRepo(t)
	mgr := NewManager(t.TempDir())
	ctx := context.Background()

	if _, err := mgr.Create(ctx, repo, "alpha", "run-1", "agent/run-1"); err != nil {
		t.Fatal(err)
	}

	paths, err := mgr.List(ctx, repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != mgr.Path("alpha", "run-1") {
		t.Errorf("paths = %v, want the run-1 workspace only", paths)
	}
}
