// Package inbox renders the notification list.
package inbox

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/keys"
	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/theme"
)

// MarkReadMsg is sent when the user marks the selected notification read.
type MarkReadMsg struct {
	ID int64
}

// Model is the notification list view.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates an empty list view. now is used for relative timestamps and
// may be nil.
func New(k *keys.KeyMap, now func() time.Time, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{now: now}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("notification", "notifications")
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle
	l.KeyMap.Quit.SetEnabled(false)
	l.KeyMap.ForceQuit.SetEnabled(false)

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.MarkRead) {
		n, ok := m.Selected()
		if !ok || n.Read {
			return m, nil
		}
		return m, func() tea.Msg {
			return MarkReadMsg{ID: n.ID}
		}
	}

	// Navigation keys (up/down/pgup/pgdn) go to the list.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// SetNotifications replaces the displayed notifications, keeping the
// cursor on the same notification when it is still present.
func (m *Model) SetNotifications(ns []model.Notification) tea.Cmd {
	selected, hadSelection := m.Selected()

	items := make([]list.Item, len(ns))
	cursor := 0
	for i, n := range ns {
		items[i] = NotificationItem{Notification: n}
		if hadSelection && n.ID == selected.ID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	item, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return item.Notification, true
}

// Len returns the number of displayed notifications.
func (m Model) Len() int {
	return len(m.list.Items())
}

// View renders the list view.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

func (m Model) renderEmptyState() string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render("No notifications yet.\n\nNew activity appears here as it arrives.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
