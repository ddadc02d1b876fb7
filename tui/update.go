package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/forcetools/orgupgrader/internal/domain"
)

const tabCount = 2

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.statuses, m.past, m.sessionID)
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
		case "h":
			m.activeTab = 1
			m.selectedRow = 0
			m.scroll = 0
		case "l":
			m.activeTab = 0
			m.selectedRow = 0
			m.scroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(
			refreshCmd(m.statuses, m.past, m.sessionID),
			tickCmd(),
		)

	case RefreshMsg:
		m.applyRefresh(msg)
		return m, nil
	}

	return m, nil
}

func (m *Model) applyRefresh(msg RefreshMsg) {
	if msg.Err != nil {
		m.statusMsg = "history unavailable: " + msg.Err.Error()
	} else {
		m.statusMsg = ""
	}
	m.events = msg.Events
	m.entries = msg.Entries
	m.lastRefresh = time.Now()

	m.succeeded, m.failed, m.waiting = 0, 0, 0
	for _, ev := range m.events {
		switch ev.Type {
		case domain.EventVerificationRequired, domain.EventConfirmationRequired:
			m.waiting++
		case domain.EventAttemptFinished:
			if domain.Status(ev.Detail["status"]) == domain.StatusCompleted {
				m.succeeded++
			} else if domain.Status(ev.Detail["status"]).CountsAsFailure() {
				m.failed++
			}
		}
	}
}

func (m Model) rowCount() int {
	if m.activeTab == 0 {
		return len(m.events)
	}
	return len(m.entries)
}

func (m Model) visibleRows() int {
	if m.height <= 10 {
		return 12
	}
	return m.height - 8
}
