package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/logbook-notify/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

const notificationColumns = `id, title, body, category, actor, link_type, link_id, read, created_at`

// SaveNotifications inserts or replaces a batch of notifications.
func (s *SQLiteStore) SaveNotifications(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO notifications (
			id, title, body, category,
			actor, link_type, link_id,
			read, created_at, cached_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing save statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, n := range ns {
		_, err := stmt.ExecContext(ctx,
			n.ID, n.Title, n.Body, string(n.Category),
			n.Actor, n.LinkType, n.LinkID,
			boolToInt(n.Read), n.CreatedAt.UTC(), now,
		)
		if err != nil {
			return fmt.Errorf("saving notification %d: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notifications: %w", err)
	}
	return nil
}

// RecentNotifications returns up to limit notifications, newest first.
func (s *SQLiteStore) RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var ns []model.Notification
	err := s.db.SelectContext(ctx, &ns,
		"SELECT "+notificationColumns+" FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent notifications: %w", err)
	}
	return ns, nil
}

// UnreadNotifications returns every cached notification not yet read,
// newest first.
func (s *SQLiteStore) UnreadNotifications(ctx context.Context) ([]model.Notification, error) {
	var ns []model.Notification
	err := s.db.SelectContext(ctx, &ns,
		"SELECT "+notificationColumns+" FROM notifications WHERE read = 0 ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	return ns, nil
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %d as read: %w", id, err)
	}
	return nil
}

// MarkAllNotificationsRead marks every cached notification as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE read = 0"); err != nil {
		return fmt.Errorf("marking all notifications as read: %w", err)
	}
	return nil
}

// PruneNotifications keeps only the newest keep rows.
func (s *SQLiteStore) PruneNotifications(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id NOT IN (
			SELECT id FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?
		)`, keep,
	)
	if err != nil {
		return fmt.Errorf("pruning notifications: %w", err)
	}
	return nil
}

// SaveStats replaces the cached server summary.
func (s *SQLiteStore) SaveStats(ctx context.Context, stats model.Stats) error {
	byType, err := json.Marshal(stats.ByType)
	if err != nil {
		return fmt.Errorf("marshaling stats by type: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notification_stats (id, total, unread, by_type, updated_at)
		VALUES (1, ?, ?, ?, ?)`,
		stats.Total, stats.Unread, string(byType), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving stats: %w", err)
	}
	return nil
}

// LoadStats returns the cached server summary, or ErrNoStats.
func (s *SQLiteStore) LoadStats(ctx context.Context) (model.Stats, error) {
	var row struct {
		Total  int    `db:"total"`
		Unread int    `db:"unread"`
		ByType string `db:"by_type"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT total, unread, by_type FROM notification_stats WHERE id = 1",
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Stats{}, ErrNoStats
	}
	if err != nil {
		return model.Stats{}, fmt.Errorf("loading stats: %w", err)
	}

	stats := model.Stats{Total: row.Total, Unread: row.Unread}
	if row.ByType != "" && row.ByType != "null" {
		if err := json.Unmarshal([]byte(row.ByType), &stats.ByType); err != nil {
			return model.Stats{}, fmt.Errorf("unmarshaling stats by type: %w", err)
		}
	}
	return stats, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
