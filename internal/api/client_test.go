package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/logbook-notify/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", StaticToken("secret"), WithMaxWait(10*time.Millisecond))
}

func TestListNotificationsBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id": 2, "title": "Approved", "message": "Week 3", "notification_type": "logbook_approved",
			 "actor_name": "Dr. Reyes", "related_object_type": "logbook", "related_object_id": 14,
			 "is_read": false, "created_at": "2026-03-02T09:00:00Z"},
			{"id": 1, "title": "Comment", "message": "Nice", "notification_type": "comment_added",
			 "is_read": true, "created_at": "2026-03-01T09:00:00Z"}
		]`))
	})

	list, err := c.ListNotifications(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0]
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, "Week 3", first.Body)
	assert.Equal(t, model.CategoryLogbookApproved, first.Category)
	assert.Equal(t, "Dr. Reyes", first.Actor)
	assert.True(t, first.HasLink())
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), first.CreatedAt.UTC())
	assert.True(t, list[1].Read)
}

func TestListNotificationsWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"notifications": [{"id": 9, "notification_type": "system"}], "unread_count": 1}`))
	})

	list, err := c.ListNotifications(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(9), list[0].ID)
}

func TestStats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"total": 12, "unread_count": 4, "by_type": {"comment_added": 3}}`))
	})

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Total)
	assert.Equal(t, 4, stats.Unread)
	assert.Equal(t, 3, stats.ByType[model.CategoryCommentAdded])
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ListNotifications(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestServerErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail": "upstream down"}`))
	})

	_, err := c.Stats(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream down", statusErr.Detail)
	assert.False(t, IsAuthError(err))
}

func TestRateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	list, err := c.ListNotifications(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitGivesUp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.maxRetries = 1

	_, err := c.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (1) exceeded")
}

func TestMarkReadUsesPatch(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.MarkRead(context.Background(), 42))
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/notifications/42/read", path)
}

func TestMarkReadFallsBackToPost(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})

	require.NoError(t, c.MarkRead(context.Background(), 7))
	assert.Equal(t, []string{http.MethodPatch, http.MethodPost}, methods)
}

func TestMarkAllRead(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		path = r.URL.Path
	})

	require.NoError(t, c.MarkAllRead(context.Background()))
	assert.Equal(t, "/notifications/read-all", path)
}

func TestEmptyTokenSendsNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"total": 0, "unread": 0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken(""))
	assert.NoError(t, c.ValidateToken(context.Background()))
}

func TestContextCancelDuringRateLimitWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("secret"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
