package testutil

import (
	"context"
	"testing"

	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewSeededStore is NewTestStore pre-filled with ns and, when non-nil,
// cached stats.
func NewSeededStore(t *testing.T, stats *model.Stats, ns ...model.Notification) *store.SQLiteStore {
	t.Helper()

	s := NewTestStore(t)
	ctx := context.Background()
	if len(ns) > 0 {
		if err := s.SaveNotifications(ctx, ns); err != nil {
			t.Fatalf("seeding notifications: %v", err)
		}
	}
	if stats != nil {
		if err := s.SaveStats(ctx, *stats); err != nil {
			t.Fatalf("seeding stats: %v", err)
		}
	}
	return s
}
