package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/forcetools/orgupgrader/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

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

	waitingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" Org Upgrader │ Session: %s │ Active: %d │ Waiting: %d │ OK: %d │ Failed: %d ",
		m.sessionID, len(m.events), m.waiting, m.succeeded, m.failed)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var section string
	if m.activeTab == 0 {
		section = m.renderLive()
	} else {
		section = m.renderHistory()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	if m.statusMsg != "" {
		b.WriteString(waitingStyle.Width(m.width).Render(" " + m.statusMsg + " "))
		b.WriteString("\n")
	}

	help := " q quit │ tab switch │ j/k move │ r refresh "
	if !m.lastRefresh.IsZero() {
		help += dimmedStyle.Render(fmt.Sprintf("│ updated %s ago", time.Since(m.lastRefresh).Round(time.Second)))
	}
	b.WriteString(dimmedStyle.Width(m.width).Render(help))

	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Live", "History"}
	parts := make([]string, len(names))
	for i, name := range names {
		if i == m.activeTab {
			parts[i] = tabActiveStyle.Render(name)
		} else {
			parts[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderLive() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Upgrades"))
	b.WriteString("\n")

	if len(m.events) == 0 {
		b.WriteString(dimmedStyle.Render("No upgrades in this session yet"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("%-20s %-26s %-10s %s", "ORG", "PHASE", "AGE", "MESSAGE")))
	b.WriteString("\n")

	rows := m.events
	maxVisible := m.visibleRows()
	if m.scroll < len(rows) {
		rows = rows[m.scroll:]
	}
	if len(rows) > maxVisible {
		rows = rows[:maxVisible]
	}

	for i, ev := range rows {
		line := fmt.Sprintf("%-20s %-26s %-10s %s",
			truncate(ev.OrgID, 20),
			string(ev.Phase),
			time.Since(ev.Timestamp).Round(time.Second),
			truncate(m.describe(ev), max(10, m.width-64)))

		style := styleForEvent(ev)
		if m.scroll+i == m.selectedRow {
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) describe(ev domain.StatusEvent) string {
	switch ev.Type {
	case domain.EventVerificationRequired:
		return "⚠ verification code needed"
	case domain.EventConfirmationRequired:
		installed := ev.Detail["installed_version"]
		target := ev.Detail["target_version"]
		return fmt.Sprintf("⚠ confirm %s → %s", installed, target)
	case domain.EventAttemptFinished:
		return "finished: " + ev.Detail["status"]
	case domain.EventCriticalError:
		return "error: " + ev.Message
	}
	return ev.Message
}

func styleForEvent(ev domain.StatusEvent) lipgloss.Style {
	switch ev.Type {
	case domain.EventVerificationRequired, domain.EventConfirmationRequired:
		return waitingStyle
	case domain.EventCriticalError:
		return failedStyle
	case domain.EventAttemptFinished:
		if domain.Status(ev.Detail["status"]) == domain.StatusCompleted {
			return runningStyle
		}
		return failedStyle
	}
	return lipgloss.NewStyle()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent attempts"))
	b.WriteString("\n")

	if len(m.entries) == 0 {
		b.WriteString(dimmedStyle.Render("No recorded attempts"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("%-20s %-18s %-20s %-9s %s", "ORG", "PACKAGE", "STATUS", "DURATION", "WHEN")))
	b.WriteString("\n")

	rows := m.entries
	maxVisible := m.visibleRows()
	if m.scroll < len(rows) {
		rows = rows[m.scroll:]
	}
	if len(rows) > maxVisible {
		rows = rows[:maxVisible]
	}

	for i, e := range rows {
		status := e.Status
		if e.Error != "" {
			status += " (" + truncate(e.Error, 24) + ")"
		}
		line := fmt.Sprintf("%-20s %-18s %-20s %-9s %s",
			truncate(e.OrgID, 20),
			e.PackageID,
			truncate(status, 20),
			e.Duration.Round(time.Second),
			e.StartedAt.Format("Jan 2 15:04"))

		style := dimmedStyle
		if e.Status == "success" {
			style = runningStyle
		} else if e.Status != string(domain.StatusUserCancelled) {
			style = failedStyle
		}
		if m.scroll+i == m.selectedRow {
			style = selectedStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	return b.String()
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
