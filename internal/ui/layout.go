package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/logbook-notify/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the top header bar: the title, an optional unread
// badge and a right-aligned connection status.
func (l Layout) RenderHeader(title, badge, status string) string {
	left := theme.HeaderStyle.Render(title)
	if badge != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, theme.UnreadBadgeStyle.Render(badge))
	}

	right := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderStatusBar renders the bottom status bar with keyboard hints, or
// with an error message when isError is set.
func (l Layout) RenderStatusBar(text string, isError bool) string {
	style := theme.StatusBarStyle
	if isError {
		style = theme.ErrorBarStyle
	}
	rendered := style.Render(text)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining the
// header, the content area and the status bar. A non-empty overlay is drawn
// right-aligned at the bottom of the content area, which is clipped to make
// room for it.
func (l Layout) RenderWithFrame(header, content, overlay, statusBar string) string {
	height := l.ContentHeight()
	if overlay != "" {
		height -= lipgloss.Height(overlay)
		if height < 0 {
			height = 0
		}
	}
	body := lipgloss.NewStyle().
		Height(height).
		MaxHeight(height).
		Render(content)

	parts := []string{header, body}
	if overlay != "" {
		parts = append(parts, lipgloss.PlaceHorizontal(l.Width, lipgloss.Right, overlay))
	}
	parts = append(parts, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
