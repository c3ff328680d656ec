package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

// Snapshot is one consistent read of fleet state for rendering
type Snapshot struct {
	Projects  []*domain.Project
	Approved  []*domain.PRD
	Running   []*domain.Run
	Recent    []*domain.Run
	Alerts    []*domain.HealthAlert
	MaxActive int
}

// FetchFunc loads a fresh snapshot. Called on every refresh tick.
type FetchFunc func() (Snapshot, error)

// Model is the TUI application model
type Model struct {
	snap  Snapshot
	fetch FetchFunc

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int

	errMsg      string
	lastRefresh time.Time
}

// NewModel creates a new TUI model seeded with an initial snapshot
func NewModel(fetch FetchFunc, initial Snapshot) Model {
	return Model{
		snap:        initial,
		fetch:       fetch,
		lastRefresh: time.Now(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RefreshMsg carries a freshly loaded snapshot
type RefreshMsg struct {
	Snap Snapshot
	Err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	fetch := m.fetch
	if fetch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := fetch()
		return RefreshMsg{Snap: snap, Err: err}
	}
}
