package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/theme"
)

// Commands understood by the palette.
const (
	Refresh     = "refresh"
	MarkAllRead = "read all"
	Help        = "help"
	Logout      = "logout"
	Quit        = "quit"
)

var aliases = map[string]string{
	"sync":          Refresh,
	"r":             Refresh,
	"read-all":      MarkAllRead,
	"mark all read": MarkAllRead,
	"?":             Help,
	"q":             Quit,
	"exit":          Quit,
}

// CommandMsg is emitted when the user executes a command. The value is the
// canonical command name, or the raw input when it is not recognised.
type CommandMsg string

// Normalize maps input to its canonical command name. ok is false for
// unknown commands.
func Normalize(input string) (cmd string, ok bool) {
	s := strings.ToLower(strings.Join(strings.Fields(input), " "))
	switch s {
	case Refresh, MarkAllRead, Help, Logout, Quit:
		return s, true
	}
	if c, found := aliases[s]; found {
		return c, true
	}
	return s, false
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "refresh, read all, logout, quit..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions([]string{Refresh, MarkAllRead, Help, Logout, Quit})
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		cmd, _ := Normalize(raw)
		return m, func() tea.Msg {
			return CommandMsg(cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Command Palette")
	input := m.input.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, input)

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.input.Reset()
	return m.input.Focus()
}
