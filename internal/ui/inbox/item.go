package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i NotificationItem) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i NotificationItem) Description() string {
	n := i.Notification
	parts := []string{categoryLabel(n.Category)}
	if n.Actor != "" {
		parts = append(parts, n.Actor)
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering notifications.
type ItemDelegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ni, ok := item.(NotificationItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(ni.Notification, index == m.Index()))
}

func (d ItemDelegate) renderLine(n model.Notification, isSelected bool) string {
	marker := "●"
	if n.Read {
		marker = " "
	}

	badge := theme.CategoryStyle(n.Category).Render(categoryLabel(n.Category))

	title := n.Title
	if title == "" {
		title = n.Body
	}

	actor := ""
	if n.Actor != "" {
		actor = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Render(" · " + n.Actor)
	}

	link := ""
	if n.HasLink() {
		link = lipgloss.NewStyle().
			Foreground(theme.ColorBlue).
			Render(fmt.Sprintf(" ↗ %s#%d", n.LinkType, n.LinkID))
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	age := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(now(), n.CreatedAt))

	line := fmt.Sprintf("%s %s %s%s%s  %s", marker, badge, title, actor, link, age)

	if n.Read {
		line = theme.DimmedStyle.Render(line)
	}
	if isSelected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// categoryLabel returns a short badge label for a notification category.
func categoryLabel(c model.Category) string {
	if c == "" {
		return "INFO"
	}
	return strings.ToUpper(strings.ReplaceAll(c.Label(), "_", " "))
}

// relativeTime returns a human-friendly age of t as seen at now.
func relativeTime(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
