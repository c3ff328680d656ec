//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../claude-fleet",
		"./claude-fleet",
		filepath.Join(os.Getenv("GOPATH"), "bin", "claude-fleet"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../claude-fleet", "../cmd/claude-fleet")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../claude-fleet")
	return abs
}

// createTestConfig writes a config pointing at a temp database and workspace
func createTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := `[general]
workspace_root = "` + filepath.Join(t.TempDir(), "workspaces") + `"
database_path = "` + dbPath + `"
max_concurrent_runs = 2

[agent]
tool = "true"

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, binary, configPath string, args ...string) string {
	t.Helper()
	cmd := exec.Command(binary, append(args, "--config", configPath)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func TestCLI_ProjectsAddAndList(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectRoot := CreateTestProject(t, nil)

	runCLI(t, binary, configPath, "projects", "add",
		"--id", "billing", "--name", "Billing Service", "--path", projectRoot,
		"--iterations", "8")

	output := runCLI(t, binary, configPath, "projects", "list")
	if !strings.Contains(output, "billing") {
		t.Errorf("Expected project id in output, got: %s", output)
	}
	if !strings.Contains(output, "Billing Service") {
		t.Errorf("Expected project name in output, got: %s", output)
	}
	if !strings.Contains(output, "8") {
		t.Errorf("Expected iteration budget in output, got: %s", output)
	}
}

func TestCLI_Import(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectRoot := CreateTestProject(t, map[string]string{
		"oauth.md":   ApprovedManifest("prd-oauth", "OAuth login", 6, 0.7),
		"draft.md":   DraftManifest("prd-draft", "Not ready"),
		"billing.md": ApprovedManifest("prd-billing", "Usage billing", 10, 0.4),
	})

	runCLI(t, binary, configPath, "projects", "add", "--id", "app", "--path", projectRoot)
	output := runCLI(t, binary, configPath, "import")

	if !strings.Contains(output, "Imported 2") {
		t.Errorf("Expected 2 imports, got: %s", output)
	}
	if !strings.Contains(output, "prd-oauth") || !strings.Contains(output, "prd-billing") {
		t.Errorf("Expected imported ids in output, got: %s", output)
	}
	if strings.Contains(output, "prd-draft") {
		t.Errorf("Draft must not be imported, got: %s", output)
	}
}

func TestCLI_ImportIsIdempotent(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectRoot := CreateTestProject(t, map[string]string{
		"oauth.md": ApprovedManifest("prd-oauth", "OAuth login", 6, 0.7),
	})

	runCLI(t, binary, configPath, "projects", "add", "--id", "app", "--path", projectRoot)
	runCLI(t, binary, configPath, "import")
	output := runCLI(t, binary, configPath, "status")

	if !strings.Contains(output, "Queue: 1 approved") {
		t.Errorf("Expected one queued unit, got: %s", output)
	}

	runCLI(t, binary, configPath, "import")
	output = runCLI(t, binary, configPath, "status")
	if !strings.Contains(output, "Queue: 1 approved") {
		t.Errorf("Re-import must not duplicate queue entries, got: %s", output)
	}
}

func TestCLI_StatusEmpty(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))

	output := runCLI(t, binary, configPath, "status")
	if !strings.Contains(output, "No agents running") {
		t.Errorf("Expected empty fleet message, got: %s", output)
	}
	if !strings.Contains(output, "Queue: 0 approved") {
		t.Errorf("Expected empty queue, got: %s", output)
	}
}

func TestCLI_ScheduleSelectsByRisk(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectRoot := gitInit(t, CreateTestProject(t, map[string]string{
		"risky.md": ApprovedManifest("prd-risky", "Risky change", 5, 0.9),
		"safe.md":  ApprovedManifest("prd-safe", "Safe change", 5, 0.1),
	}))

	runCLI(t, binary, configPath, "projects", "add", "--id", "app", "--path", projectRoot)
	runCLI(t, binary, configPath, "import")

	output := runCLI(t, binary, configPath, "schedule")
	if !strings.Contains(output, "Scheduled 1 runs") {
		t.Errorf("Expected one run per project per pass, got: %s", output)
	}
	if !strings.Contains(output, "Risky change") {
		t.Errorf("Expected highest-risk unit selected first, got: %s", output)
	}
}

func TestCLI_StaleEmpty(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))

	output := runCLI(t, binary, configPath, "stale", "--minutes", "30")
	if !strings.Contains(output, "No stale runs") {
		t.Errorf("Expected no stale runs, got: %s", output)
	}
}

func TestCLI_LogsPrune(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))

	output := runCLI(t, binary, configPath, "logs", "--prune", "30")
	if !strings.Contains(output, "Pruned 0") {
		t.Errorf("Expected empty prune, got: %s", output)
	}
}

func TestCLI_InvalidCommand(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "invalidcommand")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Error("Expected error for invalid command")
	}

	output := string(out)
	if !strings.Contains(output, "unknown command") && !strings.Contains(output, "Usage") {
		t.Errorf("Expected error message or usage info, got: %s", output)
	}
}

// gitInit turns a plain directory into a git repo with one commit so
// worktree creation has a HEAD to branch from.
func gitInit(t *testing.T, dir string) string {
	t.Helper()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"add", "."},
		{"commit", "-m", "initial", "--allow-empty"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
		}
	}
	return dir
}
