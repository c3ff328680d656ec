package approval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

func newTestStore(t *testing.T) *runstore.Store {
	t.Helper()
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProject(t *testing.T, store *runstore.Store, id, path string) *domain.Project {
	t.Helper()
	p := &domain.Project{ID: id, Name: id, Path: path, DefaultIterations: 10, AgentTool: "claude", CreatedAt: time.Now()}
	if err := store.UpsertProject(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const approvedManifest = `---
id: prd-auth
title: Add OAuth login
branch: feature/oauth
iterations: 8
risk_score: 0.7
approved: true
---

# Add OAuth login

Body text the agent reads in its checkout.
`

func TestParseManifest(t *testing.T) {
	m, body, err := ParseManifest([]byte(approvedManifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "prd-auth" || m.Title != "Add OAuth login" || m.Branch != "feature/oauth" {
		t.Errorf("manifest = %+v", m)
	}
	if m.Iterations != 8 || m.RiskScore != 0.7 || !m.Approved {
		t.Errorf("manifest = %+v", m)
	}
	if len(body) == 0 || body[0] != '#' {
		t.Errorf("body not trimmed to content: %q", body[:min(len(body), 20)])
	}
}

func TestParseManifestNoFrontmatter(t *testing.T) {
	m, body, err := ParseManifest([]byte("# Just a doc\n"))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "" || m.Approved {
		t.Errorf("manifest = %+v, want empty", m)
	}
	if string(body) != "# Just a doc\n" {
		t.Errorf("body = %q", body)
	}
}

func TestImportProject(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	project := seedProject(t, store, "alpha", root)

	prdsDir := filepath.Join(root, "docs", "prds")
	writeManifest(t, prdsDir, "auth.md", approvedManifest)
	writeManifest(t, prdsDir, "draft.md", "---\nid: prd-draft\napproved: false\n---\n# Draft\n")
	writeManifest(t, prdsDir, "notes.txt", "not a manifest")

	imp := NewImporter(store, logging.NewNop())
	imported, err := imp.ImportProject(project)
	if err != nil {
		t.Fatal(err)
	}
	if len(imported) != 1 {
		t.Fatalf("imported %d PRDs, want 1", len(imported))
	}

	prd, err := store.GetPRD("prd-auth")
	if err != nil {
		t.Fatal(err)
	}
	if prd.ProjectID != "alpha" || prd.Status != domain.PRDApproved {
		t.Errorf("prd = %+v", prd)
	}
	if prd.BranchHint != "feature/oauth" || prd.Iterations != 8 {
		t.Errorf("prd = %+v", prd)
	}

	// The unapproved draft must not be in the store.
	if _, err := store.GetPRD("prd-draft"); err == nil {
		t.Error("unapproved manifest was imported")
	}
}

func TestImportSkipsBrokenManifests(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	project := seedProject(t, store, "alpha", root)

	prdsDir := filepath.Join(root, "docs", "prds")
	writeManifest(t, prdsDir, "broken.md", "---\nid: [unclosed\n---\n")
	writeManifest(t, prdsDir, "no-id.md", "---\napproved: true\n---\n# Missing id\n")
	writeManifest(t, prdsDir, "good.md", approvedManifest)

	imp := NewImporter(store, logging.NewNop())
	imported, err := imp.ImportProject(project)
	if err != nil {
		t.Fatal(err)
	}
	if len(imported) != 1 || imported[0].ID != "prd-auth" {
		t.Fatalf("imported = %+v, want only the valid manifest", imported)
	}
}

func TestImportDoesNotRegressExecutingStatus(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	project := seedProject(t, store, "alpha", root)

	prdsDir := filepath.Join(root, "docs", "prds")
	writeManifest(t, prdsDir, "auth.md", approvedManifest)

	imp := NewImporter(store, logging.NewNop())
	if _, err := imp.ImportProject(project); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdatePRDStatus("prd-auth", domain.PRDExecuting, ""); err != nil {
		t.Fatal(err)
	}

	// A re-import while the run is in flight must not reset the status.
	if _, err := imp.ImportProject(project); err != nil {
		t.Fatal(err)
	}
	prd, err := store.GetPRD("prd-auth")
	if err != nil {
		t.Fatal(err)
	}
	if prd.Status != domain.PRDExecuting {
		t.Errorf("status = %s, re-import regressed an executing PRD", prd.Status)
	}
}

func TestImportAllCoversEveryProject(t *testing.T) {
	store := newTestStore(t)
	rootA := t.TempDir()
	rootB := t.TempDir()
	seedProject(t, store, "alpha", rootA)
	seedProject(t, store, "beta", rootB)

	writeManifest(t, filepath.Join(rootA, "docs", "prds"), "a.md",
		"---\nid: prd-a\napproved: true\n---\n# A\n")
	writeManifest(t, filepath.Join(rootB, "docs", "prds"), "b.md",
		"---\nid: prd-b\napproved: true\n---\n# B\n")

	imp := NewImporter(store, logging.NewNop())
	imported, err := imp.ImportAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(imported) != 2 {
		t.Fatalf("imported %d, want 2", len(imported))
	}

	prd, err := store.GetPRD("prd-b")
	if err != nil {
		t.Fatal(err)
	}
	if prd.ProjectID != "beta" {
		t.Errorf("prd-b assigned to %s", prd.ProjectID)
	}
	if prd.Title != "B" {
		t.Errorf("title = %q, want heading fallback", prd.Title)
	}
}

func TestImportDirMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, logging.NewNop())
	imported, err := imp.ImportDir(filepath.Join(t.TempDir(), "absent"), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(imported) != 0 {
		t.Errorf("imported = %+v", imported)
	}
}

func TestImportRejectsUnknownProject(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	writeManifest(t, dir, "orphan.md", "---\nid: prd-x\nproject: ghost\napproved: true\n---\n")

	imp := NewImporter(store, logging.NewNop())
	imported, err := imp.ImportDir(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(imported) != 0 {
		t.Error("manifest for an unregistered project was imported")
	}
}
