package help

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/keys"
	"github.com/nhle/logbook-notify/internal/theme"
)

// Diagnostics is the delivery status shown under the key list.
type Diagnostics struct {
	Connection   string
	ClientID     string
	LastPong     time.Time
	PollInterval time.Duration
	LastSync     time.Time
	PollError    error
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	diag   Diagnostics
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// SetDiagnostics replaces the status section.
func (m *Model) SetDiagnostics(d Diagnostics) {
	m.diag = d
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Keyboard Shortcuts")

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	status := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.MarginTop(1).Render("Delivery"),
		m.renderDiagnostics(),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, title, helpText, status)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

func (m Model) renderDiagnostics() string {
	d := m.diag
	rows := [][2]string{
		{"channel", orDash(d.Connection)},
		{"client id", orDash(d.ClientID)},
		{"last pong", formatTime(d.LastPong)},
		{"poll every", orDash(formatInterval(d.PollInterval))},
		{"last poll", formatTime(d.LastSync)},
	}
	if d.PollError != nil {
		rows = append(rows, [2]string{"poll error", d.PollError.Error()})
	}

	label := theme.HelpStyle.Width(12)
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, label.Render(r[0]), r[1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func formatInterval(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
