package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/store"
	"github.com/nhle/logbook-notify/tests/testutil"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sample(id int64, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Title:     "Logbook approved",
		Body:      "Week 3 signed off",
		Category:  model.CategoryLogbookApproved,
		Actor:     "Dr. Reyes",
		LinkType:  "logbook",
		LinkID:    14,
		Read:      read,
		CreatedAt: base.Add(time.Duration(id) * time.Minute),
	}
}

func ids(ns []model.Notification) []int64 {
	out := make([]int64, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestSaveAndRecent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{
		sample(1, false), sample(3, true), sample(2, false),
	}))

	got, err := s.RecentNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(got))

	first := got[0]
	assert.Equal(t, "Week 3 signed off", first.Body)
	assert.Equal(t, model.CategoryLogbookApproved, first.Category)
	assert.Equal(t, "Dr. Reyes", first.Actor)
	assert.Equal(t, int64(14), first.LinkID)
	assert.True(t, first.Read)
	assert.True(t, first.CreatedAt.Equal(base.Add(3*time.Minute)))

	limited, err := s.RecentNotifications(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ids(limited))
}

func TestSaveReplacesExisting(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{sample(1, false)}))
	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{sample(1, true)}))

	got, err := s.RecentNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Read)
}

func TestMarkRead(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{
		sample(1, false), sample(2, false), sample(3, false),
	}))

	require.NoError(t, s.MarkNotificationRead(ctx, 2))
	unread, err := s.UnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids(unread))

	require.NoError(t, s.MarkAllNotificationsRead(ctx))
	unread, err = s.UnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestPrune(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var batch []model.Notification
	for id := int64(1); id <= 8; id++ {
		batch = append(batch, sample(id, false))
	}
	require.NoError(t, s.SaveNotifications(ctx, batch))

	require.NoError(t, s.PruneNotifications(ctx, 3))

	got, err := s.RecentNotifications(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 7, 6}, ids(got))
}

func TestStats(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.LoadStats(ctx)
	assert.ErrorIs(t, err, store.ErrNoStats)

	want := model.Stats{Total: 9, Unread: 4, ByType: map[model.Category]int{model.CategoryCommentAdded: 2}}
	require.NoError(t, s.SaveStats(ctx, want))
	require.NoError(t, s.SaveStats(ctx, want))

	got, err := s.LoadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveNotifications(context.Background(), []model.Notification{sample(1, false)}))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, err := s.RecentNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
