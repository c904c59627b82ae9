package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nhle/logbook-notify/internal/model"
)

// DefaultLimit is the page size used when ListNotifications gets limit <= 0.
const DefaultLimit = 50

// notificationList accepts either a bare array or an object wrapping it.
type notificationList []model.Notification

func (l *notificationList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []model.Notification
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	var wrapped struct {
		Notifications []model.Notification `json:"notifications"`
		Results       []model.Notification `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Notifications != nil {
		*l = wrapped.Notifications
	} else {
		*l = wrapped.Results
	}
	return nil
}

// ListNotifications fetches the most recent notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var list notificationList
	if err := c.Get(ctx, fmt.Sprintf("/notifications?limit=%d", limit), &list); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return list, nil
}

// Stats fetches the server-side summary.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var raw struct {
		Total       int                    `json:"total"`
		Unread      *int                   `json:"unread"`
		UnreadCount *int                   `json:"unread_count"`
		ByType      map[model.Category]int `json:"by_type"`
	}
	if err := c.Get(ctx, "/notifications/stats", &raw); err != nil {
		return model.Stats{}, fmt.Errorf("fetching notification stats: %w", err)
	}

	stats := model.Stats{Total: raw.Total, ByType: raw.ByType}
	switch {
	case raw.Unread != nil:
		stats.Unread = *raw.Unread
	case raw.UnreadCount != nil:
		stats.Unread = *raw.UnreadCount
	}
	return stats, nil
}

// MarkRead records that id was read. Servers that reject PATCH on this
// route are retried with POST.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/notifications/%d/read", id)
	err := c.Patch(ctx, path, nil, nil)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusMethodNotAllowed {
		err = c.Post(ctx, path, nil, nil)
	}
	if err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllRead records that every notification was read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.Post(ctx, "/notifications/read-all", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// ValidateToken checks that the current token is accepted.
func (c *Client) ValidateToken(ctx context.Context) error {
	_, err := c.Stats(ctx)
	return err
}
