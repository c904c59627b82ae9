package store

import (
	"context"
	"errors"

	"github.com/nhle/logbook-notify/internal/model"
)

// ErrNoStats is returned by LoadStats before any stats were saved.
var ErrNoStats = errors.New("no cached stats")

// Store defines the local cache of recent notifications.
type Store interface {
	// === Notifications ===

	SaveNotifications(ctx context.Context, ns []model.Notification) error
	RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	UnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	PruneNotifications(ctx context.Context, keep int) error

	// === Stats ===

	SaveStats(ctx context.Context, stats model.Stats) error
	LoadStats(ctx context.Context) (model.Stats, error)

	Close() error
}
