package inbox

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/logbook-notify/internal/keys"
	"github.com/nhle/logbook-notify/internal/model"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func notes() []model.Notification {
	return []model.Notification{
		{ID: 3, Title: "Comment on week 4", Category: model.CategoryCommentAdded, CreatedAt: now.Add(-time.Minute)},
		{ID: 2, Title: "Logbook approved", Category: model.CategoryLogbookApproved, CreatedAt: now.Add(-time.Hour), Read: true},
		{ID: 1, Title: "Milestone due", Category: model.CategoryMilestoneDue, CreatedAt: now.Add(-48 * time.Hour)},
	}
}

func TestEnterEmitsMarkRead(t *testing.T) {
	m := New(keys.DefaultKeyMap(), fixedNow, 80, 20)
	m.SetNotifications(notes())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, MarkReadMsg{ID: 3}, cmd())
}

func TestEnterOnReadItemDoesNothing(t *testing.T) {
	m := New(keys.DefaultKeyMap(), fixedNow, 80, 20)
	m.SetNotifications(notes())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})

	n, ok := m.Selected()
	require.True(t, ok)
	require.Equal(t, int64(2), n.ID)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestSetNotificationsKeepsCursor(t *testing.T) {
	m := New(keys.DefaultKeyMap(), fixedNow, 80, 20)
	m.SetNotifications(notes())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})

	fresh := append([]model.Notification{
		{ID: 4, Title: "Leave approved", Category: model.CategoryLeaveApproved, CreatedAt: now},
	}, notes()...)
	m.SetNotifications(fresh)

	n, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(2), n.ID)
	assert.Equal(t, 4, m.Len())
}

func TestEmptyState(t *testing.T) {
	m := New(keys.DefaultKeyMap(), fixedNow, 80, 20)
	assert.Contains(t, m.View(), "No notifications yet")

	_, ok := m.Selected()
	assert.False(t, ok)
}

func TestRenderLine(t *testing.T) {
	d := ItemDelegate{now: fixedNow}
	line := d.renderLine(model.Notification{
		ID:        9,
		Title:     "Logbook rejected",
		Category:  model.CategoryLogbookRejected,
		Actor:     "Dr. Reyes",
		LinkType:  "logbook",
		LinkID:    14,
		CreatedAt: now.Add(-3 * time.Hour),
	}, false)

	assert.Contains(t, line, "REJECTED")
	assert.Contains(t, line, "Logbook rejected")
	assert.Contains(t, line, "Dr. Reyes")
	assert.Contains(t, line, "logbook#14")
	assert.Contains(t, line, "3h ago")
}

func TestRelativeTime(t *testing.T) {
	assert.Equal(t, "", relativeTime(now, time.Time{}))
	assert.Equal(t, "just now", relativeTime(now, now.Add(-10*time.Second)))
	assert.Equal(t, "5m ago", relativeTime(now, now.Add(-5*time.Minute)))
	assert.Equal(t, "2d ago", relativeTime(now, now.Add(-49*time.Hour)))
	assert.Equal(t, "3w ago", relativeTime(now, now.Add(-22*24*time.Hour)))
}

func TestCategoryLabelFallsBackToRawValue(t *testing.T) {
	assert.Equal(t, "WEEKLY DIGEST", categoryLabel(model.Category("weekly_digest")))
	assert.Equal(t, "INFO", categoryLabel(""))
}
