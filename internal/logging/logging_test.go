package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})
	log.Info("run started", "run", "r-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "run started" {
		t.Errorf("unexpected msg: %v", rec["msg"])
	}
	if rec["run"] != "r-1" {
		t.Errorf("unexpected run field: %v", rec["run"])
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})
	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn line missing")
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf}).WithRun("r-2", "proj")
	log.Info("progress")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["run"] != "r-2" || rec["project"] != "proj" {
		t.Errorf("correlation fields missing: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug {
		t.Error("debug not parsed")
	}
	if parseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}

func TestNopDiscards(t *testing.T) {
	log := NewNop()
	log.Error("nothing to see")
}
