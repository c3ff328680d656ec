package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/runstore"
)

type mockStore struct {
	projects []*domain.Project
	prds     []*domain.PRD
	runs     []*domain.Run
	alerts   []*domain.HealthAlert
	worklog  []*domain.WorkLogEntry
}

func (m *mockStore) ListProjects() ([]*domain.Project, error) { return m.projects, nil }
func (m *mockStore) ListApprovedPRDs() ([]*domain.PRD, error) { return m.prds, nil }

func (m *mockStore) ListRunsByStatus(status domain.RunStatus) ([]*domain.Run, error) {
	var out []*domain.Run
	for _, r := range m.runs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) GetRun(id string) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, runstore.ErrNotFound
}

func (m *mockStore) ListWorkLogForRun(runID string, limit int) ([]*domain.WorkLogEntry, error) {
	return m.worklog, nil
}

func (m *mockStore) ListRecentAlerts(limit int) ([]*domain.HealthAlert, error) {
	return m.alerts, nil
}

func newTestServer(store Store) *Server {
	return NewServer(store, ":0", logging.NewNop())
}

func TestStatusHandler(t *testing.T) {
	store := &mockStore{
		projects: []*domain.Project{{ID: "alpha"}, {ID: "beta"}},
		prds:     []*domain.PRD{{ID: "prd-1", Status: domain.PRDApproved}},
		runs: []*domain.Run{
			{ID: "r1", Status: domain.RunRunning},
			{ID: "r2", Status: domain.RunCompleted},
			{ID: "r3", Status: domain.RunFailed},
			{ID: "r4", Status: domain.RunFailed},
		},
	}

	w := httptest.NewRecorder()
	newTestServer(store).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)
	if status.Projects != 2 || status.Approved != 1 || status.Running != 1 || status.Failed != 2 {
		t.Errorf("status = %+v", status)
	}
}

func TestListRunsHandlerFiltersByStatus(t *testing.T) {
	store := &mockStore{
		runs: []*domain.Run{
			{ID: "r1", Status: domain.RunRunning},
			{ID: "r2", Status: domain.RunCompleted},
		},
	}

	w := httptest.NewRecorder()
	newTestServer(store).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs?status=running", nil))

	var runs []RunResponse
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("runs = %+v, want only r1", runs)
	}
}

func TestGetRunHandler(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	store := &mockStore{
		runs: []*domain.Run{{
			ID:                  "r1",
			ProjectID:           "alpha",
			Status:              domain.RunRunning,
			IterationsPlanned:   10,
			IterationsCompleted: 3,
			StartedAt:           &started,
		}},
	}

	w := httptest.NewRecorder()
	newTestServer(store).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/r1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var run RunResponse
	json.NewDecoder(w.Body).Decode(&run)
	if run.ID != "r1" || run.IterationsCompleted != 3 {
		t.Errorf("run = %+v", run)
	}
	if run.ProgressAge == "" {
		t.Error("running run should report a progress age")
	}
}

func TestGetRunHandlerNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer(&mockStore{}).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRunLogHandler(t *testing.T) {
	store := &mockStore{
		worklog: []*domain.WorkLogEntry{
			{Event: domain.EventRunStarted, Message: "started", CreatedAt: time.Now()},
		},
	}

	w := httptest.NewRecorder()
	newTestServer(store).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/r1/log", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), domain.EventRunStarted) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListAlertsHandler(t *testing.T) {
	store := &mockStore{
		alerts: []*domain.HealthAlert{{
			ID: 1, RunID: "r1", ProjectID: "alpha",
			Kind: domain.AlertStuck, Severity: domain.SeverityCritical,
			CreatedAt: time.Now(),
		}},
	}

	w := httptest.NewRecorder()
	newTestServer(store).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/alerts", nil))

	var alerts []AlertResponse
	json.NewDecoder(w.Body).Decode(&alerts)
	if len(alerts) != 1 || alerts[0].Kind != "stuck" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer(&mockStore{}).Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	server := newTestServer(&mockStore{})
	go server.hub.Run()

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Registration races the broadcast; retry until the client is attached.
	go func() {
		for i := 0; i < 50; i++ {
			server.Broadcast(Event{Type: "run_started", Data: map[string]string{"id": "r1"}})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatal(err)
	}
	if event.Type != "run_started" {
		t.Errorf("event = %+v", event)
	}
}

func TestEventHubEvictsBlockedClient(t *testing.T) {
	hub := NewEventHub()
	go hub.Run()

	// Unbuffered and never read: the first broadcast cannot deliver to it.
	blocked := make(chan Event)
	hub.register <- blocked

	live := make(chan Event, 4)
	hub.register <- live

	hub.Broadcast(Event{Type: "run_started"})
	hub.Broadcast(Event{Type: "run_completed"})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-live:
			got[event.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("live client stopped receiving after a blocked sibling")
		}
	}
	if !got["run_started"] || !got["run_completed"] {
		t.Errorf("live client events = %v", got)
	}

	select {
	case _, open := <-blocked:
		if open {
			t.Error("blocked client received instead of being evicted")
		}
	case <-time.After(2 * time.Second):
		t.Error("blocked client channel never closed")
	}
}
