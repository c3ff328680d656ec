package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tabCount = 4

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
			maxVisible := m.visibleRows()
			if m.selectedRow >= m.scroll+maxVisible {
				m.scroll = m.selectedRow - maxVisible + 1
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.selectedRow < m.scroll {
				m.scroll = m.selectedRow
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
			m.scroll = 0
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			m.selectedRow = 0
			m.scroll = 0
		case "1", "2", "3", "4":
			m.activeTab = int(msg.String()[0] - '1')
			m.selectedRow = 0
			m.scroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case RefreshMsg:
		if msg.Err != nil {
			m.errMsg = msg.Err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.snap = msg.Snap
		m.lastRefresh = time.Now()
		if m.selectedRow >= m.rowCount() && m.rowCount() > 0 {
			m.selectedRow = m.rowCount() - 1
		}
	}

	return m, nil
}

// rowCount returns the number of selectable rows on the active tab
func (m Model) rowCount() int {
	switch m.activeTab {
	case 1:
		return len(m.snap.Running) + len(m.snap.Recent)
	case 2:
		return len(m.snap.Alerts)
	case 3:
		return len(m.snap.Projects)
	default:
		return len(m.snap.Running)
	}
}

func (m Model) visibleRows() int {
	rows := m.height - 8
	if rows < 5 {
		rows = 5
	}
	return rows
}
