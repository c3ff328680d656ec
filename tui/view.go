package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	criticalStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

var tabNames = []string{"Dashboard", "Runs", "Alerts", "Projects"}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" Claude Fleet │ Active: %d/%d │ Queued: %d │ Projects: %d │ Alerts: %d ",
		len(m.snap.Running), m.snap.MaxActive, len(m.snap.Approved),
		len(m.snap.Projects), len(m.snap.Alerts))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRuns()))
	case 2:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderAlerts()))
	case 3:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderProjects()))
	default:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRunning()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderQueue()))
		if len(m.snap.Alerts) > 0 {
			b.WriteString("\n")
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderAlerts()))
		}
	}
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	parts := make([]string, len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf(" %d:%s ", i+1, name)
		if i == m.activeTab {
			parts[i] = tabActiveStyle.Render(label)
		} else {
			parts[i] = tabInactiveStyle.Render(label)
		}
	}
	return strings.Join(parts, "")
}

func (m Model) renderRunning() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Running (%d)\n", len(m.snap.Running)))

	if len(m.snap.Running) == 0 {
		b.WriteString(dimmedStyle.Render("  no agents running"))
		return b.String()
	}

	now := time.Now()
	for i, run := range m.snap.Running {
		line := fmt.Sprintf("  %-12s %-20s %s  %s  last progress %s",
			run.ProjectID, truncate(run.Branch, 20),
			progressBar(run.IterationsCompleted, run.IterationsPlanned),
			fmt.Sprintf("%d/%d", run.IterationsCompleted, run.IterationsPlanned),
			humanize.Time(now.Add(-run.ProgressAge(now))))
		if m.activeTab == 0 && i == m.selectedRow {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(runningStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Queued (%d)\n", len(m.snap.Approved)))

	if len(m.snap.Approved) == 0 {
		b.WriteString(dimmedStyle.Render("  queue empty"))
		return b.String()
	}

	for i, prd := range m.snap.Approved {
		if i >= 8 {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf("  … and %d more", len(m.snap.Approved)-i)))
			break
		}
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  %-12s %-30s risk %.2f",
			prd.ProjectID, truncate(prd.Title, 30), prd.RiskScore)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderRuns() string {
	var b strings.Builder
	b.WriteString("Runs\n")

	rows := append(append([]*domain.Run{}, m.snap.Running...), m.snap.Recent...)
	if len(rows) == 0 {
		b.WriteString(dimmedStyle.Render("  no runs"))
		return b.String()
	}

	maxVisible := m.visibleRows()
	end := min(len(rows), m.scroll+maxVisible)
	for i := m.scroll; i < end; i++ {
		run := rows[i]
		line := fmt.Sprintf("  %-10s %-12s %-9s %2d/%-2d iters  %d stories  retries %d",
			truncate(run.ID, 10), run.ProjectID, run.Status,
			run.IterationsCompleted, run.IterationsPlanned,
			run.StoriesCompleted, run.RetryCount)
		if run.ErrorMessage != "" {
			line += "  " + truncate(run.ErrorMessage, 30)
		}

		style := statusStyle(run.Status)
		if i == m.selectedRow {
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderAlerts() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Alerts (%d)\n", len(m.snap.Alerts)))

	if len(m.snap.Alerts) == 0 {
		b.WriteString(dimmedStyle.Render("  all healthy"))
		return b.String()
	}

	for i, alert := range m.snap.Alerts {
		line := fmt.Sprintf("  %-8s %-13s %-10s %s  %s",
			alert.Severity, alert.Kind, truncate(alert.RunID, 10),
			truncate(alert.Message, 40), humanize.Time(alert.CreatedAt))

		style := warningStyle
		if alert.Severity == domain.SeverityCritical {
			style = criticalStyle
		}
		if m.activeTab == 2 && i == m.selectedRow {
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderProjects() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Projects (%d)\n", len(m.snap.Projects)))

	if len(m.snap.Projects) == 0 {
		b.WriteString(dimmedStyle.Render("  no projects registered"))
		return b.String()
	}

	for i, p := range m.snap.Projects {
		line := fmt.Sprintf("  %-12s %-20s %s  tool %s  %d iters default",
			p.ID, truncate(p.Name, 20), truncate(p.Path, 30), p.AgentTool, p.DefaultIterations)
		if i == m.selectedRow {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	left := " tab/1-4: switch │ j/k: move │ r: refresh │ q: quit "
	right := fmt.Sprintf(" refreshed %s ", humanize.Time(m.lastRefresh))
	if m.errMsg != "" {
		right = criticalStyle.Render(" " + truncate(m.errMsg, 50) + " ")
	}

	pad := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if pad < 0 {
		pad = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", pad) + right)
}

func statusStyle(status domain.RunStatus) lipgloss.Style {
	switch status {
	case domain.RunRunning:
		return runningStyle
	case domain.RunCompleted:
		return completedStyle
	case domain.RunFailed:
		return failedStyle
	default:
		return queuedStyle
	}
}

// progressBar renders a fixed-width bar of completed vs planned iterations
func progressBar(completed, planned int) string {
	const width = 10
	if planned <= 0 {
		planned = 1
	}
	filled := completed * width / planned
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
