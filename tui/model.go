// Package tui renders a terminal dashboard for a running upgrade
// session: live per-org status plus recent history.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/history"
)

// StatusSource yields the latest event per org for a session
type StatusSource interface {
	Poll(sessionID string) []domain.StatusEvent
}

// HistorySource yields past attempts, newest first
type HistorySource interface {
	Query(offset, limit int) ([]*history.Entry, error)
}

// Model is the TUI application model
type Model struct {
	sessionID string
	statuses  StatusSource
	past      HistorySource

	// Data
	events  []domain.StatusEvent
	entries []*history.Entry

	// Stats
	succeeded int
	failed    int
	waiting   int

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int
	statusMsg   string

	lastRefresh time.Time
}

// ModelConfig holds the model's data sources
type ModelConfig struct {
	SessionID string
	Statuses  StatusSource
	History   HistorySource
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		sessionID: cfg.SessionID,
		statuses:  cfg.Statuses,
		past:      cfg.History,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.statuses, m.past, m.sessionID),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RefreshMsg carries freshly polled data
type RefreshMsg struct {
	Events  []domain.StatusEvent
	Entries []*history.Entry
	Err     error
}

func refreshCmd(statuses StatusSource, past HistorySource, sessionID string) tea.Cmd {
	return func() tea.Msg {
		msg := RefreshMsg{}
		if statuses != nil {
			msg.Events = statuses.Poll(sessionID)
		}
		if past != nil {
			msg.Entries, msg.Err = past.Query(0, 50)
		}
		return msg
	}
}
