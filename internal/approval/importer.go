package approval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

// prdsSubdir is where a project keeps its PRD manifests, relative to the
// repo root.
const prdsSubdir = "docs/prds"

// Importer reads PRD manifest files into the store. The approval decision
// itself happens outside this system; the importer only picks up the result.
type Importer struct {
	store *runstore.Store
	log   *logging.Logger
}

// NewImporter creates an Importer
func NewImporter(store *runstore.Store, log *logging.Logger) *Importer {
	return &Importer{store: store, log: log.WithComponent("approval")}
}

// ImportDir imports every approved manifest under dir. defaultProject is
// used when a manifest omits the project field; it may be empty when every
// manifest names its own. Files that fail to parse or lack required fields
// are skipped with a warning, never aborting the rest of the batch.
func (i *Importer) ImportDir(dir, defaultProject string) ([]*domain.PRD, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest dir: %w", err)
	}

	var imported []*domain.PRD
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		prd, err := i.importFile(path, defaultProject)
		if err != nil {
			i.log.Warn("skipping manifest", "file", path, "error", err)
			continue
		}
		if prd != nil {
			imported = append(imported, prd)
		}
	}
	return imported, nil
}

// ImportProject imports the manifests of one project's docs/prds directory
func (i *Importer) ImportProject(project *domain.Project) ([]*domain.PRD, error) {
	return i.ImportDir(filepath.Join(project.Path, filepath.FromSlash(prdsSubdir)), project.ID)
}

// ImportAll imports manifests for every registered project
func (i *Importer) ImportAll() ([]*domain.PRD, error) {
	projects, err := i.store.ListProjects()
	if err != nil {
		return nil, err
	}

	var imported []*domain.PRD
	for _, project := range projects {
		prds, err := i.ImportProject(project)
		if err != nil {
			i.log.Warn("project import failed", "project", project.ID, "error", err)
			continue
		}
		imported = append(imported, prds...)
	}
	return imported, nil
}

// importFile parses one manifest. Returns (nil, nil) for unapproved
// manifests, which are valid but not yet ours to act on.
func (i *Importer) importFile(path, defaultProject string) (*domain.PRD, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	manifest, body, err := ParseManifest(content)
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	if !manifest.Approved {
		return nil, nil
	}
	if manifest.ID == "" {
		return nil, fmt.Errorf("manifest has no id")
	}

	projectID := manifest.Project
	if projectID == "" {
		projectID = defaultProject
	}
	if projectID == "" {
		return nil, fmt.Errorf("manifest names no project")
	}
	if _, err := i.store.GetProject(projectID); err != nil {
		return nil, fmt.Errorf("unknown project %s: %w", projectID, err)
	}

	title := manifest.Title
	if title == "" {
		title = titleFromBody(body)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	now := time.Now()
	prd := &domain.PRD{
		ID:         manifest.ID,
		ProjectID:  projectID,
		Title:      title,
		BranchHint: manifest.Branch,
		Iterations: manifest.Iterations,
		RiskScore:  manifest.RiskScore,
		Status:     domain.PRDApproved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := i.store.UpsertPRD(prd); err != nil {
		return nil, err
	}
	i.store.AppendWorkLog("", projectID, domain.EventPRDImported,
		fmt.Sprintf("imported %s (%s)", prd.ID, prd.Title))
	i.log.Info("manifest imported", "prd", prd.ID, "project", projectID, "risk", prd.RiskScore)
	return prd, nil
}
