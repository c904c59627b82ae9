// Package toast shows transient notices raised by the inbox. Toasts are
// queued on a channel by any goroutine and drained into the Bubble Tea
// runtime one message at a time.
package toast

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/theme"
)

// DefaultDuration is used when a toast arrives without a display hint.
const DefaultDuration = 5 * time.Second

// maxVisible is the number of toasts stacked on screen at once.
const maxVisible = 3

// Msg is a toast delivered to the UI.
type Msg struct {
	Title    string
	Body     string
	Duration time.Duration
}

// expiredMsg removes the toast with the given sequence number.
type expiredMsg struct {
	seq int
}

// Bridge queues toasts from background goroutines. It satisfies the
// inbox Toaster interface.
type Bridge struct {
	ch chan Msg
}

// NewBridge creates a Bridge holding up to size undelivered toasts.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = 16
	}
	return &Bridge{ch: make(chan Msg, size)}
}

// Toast queues a toast. It never blocks; when the queue is full the toast
// is dropped.
func (b *Bridge) Toast(title, body string, duration time.Duration) {
	select {
	case b.ch <- Msg{Title: title, Body: body, Duration: duration}:
	default:
	}
}

// Wait returns a command that blocks until the next toast is queued.
// Callers re-issue it after each Msg.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}

type entry struct {
	seq int
	msg Msg
}

// Model renders the visible toasts and expires them.
type Model struct {
	entries []entry
	nextSeq int
	width   int
}

// New creates an empty toast stack.
func New(width int) Model {
	return Model{width: width}
}

// Push shows msg and returns the command that expires it.
func (m *Model) Push(msg Msg) tea.Cmd {
	d := msg.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	seq := m.nextSeq
	m.nextSeq++
	m.entries = append(m.entries, entry{seq: seq, msg: msg})
	if len(m.entries) > maxVisible {
		m.entries = m.entries[len(m.entries)-maxVisible:]
	}
	return tea.Tick(d, func(time.Time) tea.Msg {
		return expiredMsg{seq: seq}
	})
}

// Update handles expiry messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(expiredMsg); ok {
		m.expire(msg.seq)
	}
	return m, nil
}

func (m *Model) expire(seq int) {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.seq != seq {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

// Len returns the number of visible toasts.
func (m Model) Len() int {
	return len(m.entries)
}

// View renders the visible toasts newest last, or "" when there are none.
func (m Model) View() string {
	if len(m.entries) == 0 {
		return ""
	}

	width := m.width / 2
	if width < 24 {
		width = 24
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorYellow)
	bodyStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)

	boxes := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		content := titleStyle.Render(e.msg.Title)
		if e.msg.Body != "" {
			content = lipgloss.JoinVertical(lipgloss.Left, content, bodyStyle.Render(e.msg.Body))
		}
		boxes = append(boxes, theme.ToastStyle.Width(width).Render(content))
	}
	return lipgloss.JoinVertical(lipgloss.Right, boxes...)
}

// SetWidth updates the available width.
func (m *Model) SetWidth(width int) {
	m.width = width
}
