//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "fleet.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.toml")
}

// CreateTestProject builds a project directory with a docs/prds folder
// holding the given manifests (filename -> content).
func CreateTestProject(t *testing.T, manifests map[string]string) string {
	t.Helper()
	root := t.TempDir()
	prdDir := filepath.Join(root, "docs", "prds")
	if err := os.MkdirAll(prdDir, 0755); err != nil {
		t.Fatalf("Failed to create prd dir: %v", err)
	}
	for name, content := range manifests {
		if err := os.WriteFile(filepath.Join(prdDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write manifest %s: %v", name, err)
		}
	}
	return root
}

// ApprovedManifest renders an approved PRD manifest with the given id
func ApprovedManifest(id, title string, iterations int, risk float64) string {
	return fmt.Sprintf(`---
id: %s
title: %s
iterations: %d
risk_score: %.2f
approved: true
---

# %s

Do the work.
`, id, title, iterations, risk, title)
}

// DraftManifest renders an unapproved manifest that import must skip
func DraftManifest(id, title string) string {
	return fmt.Sprintf(`---
id: %s
title: %s
approved: false
---

# %s
`, id, title)
}
