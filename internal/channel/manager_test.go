package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/logbook-notify/internal/clock"
	"github.com/nhle/logbook-notify/internal/model"
)

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Message
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.written = append(c.written, v.(Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.written {
		if m.Type == TypePing {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, u string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, u)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type inbox struct {
	mu  sync.Mutex
	got []model.Notification
}

func (i *inbox) ingest(n model.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, n)
}

func (i *inbox) ids() []int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]int64, len(i.got))
	for k, n := range i.got {
		out[k] = n.ID
	}
	return out
}

func inlineDial(t *testing.T) {
	t.Helper()
	orig := goFunc
	goFunc = func(fn func()) { fn() }
	t.Cleanup(func() { goFunc = orig })
}

func newTestManager(t *testing.T, d *fakeDialer) (*Manager, *clock.Fake, *inbox) {
	t.Helper()
	inlineDial(t)
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	box := &inbox{}
	m, err := New(Options{
		URL:      "wss://logbook.example.com/ws/notifications/",
		ClientID: "client-1",
		Dialer:   d,
		Clock:    clk,
	}, box.ingest)
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m, clk, box
}

func notificationFrame(t *testing.T, id int64) []byte {
	t.Helper()
	b, err := json.Marshal(Message{
		Type: TypeNotification,
		Notification: &model.Notification{
			ID:       id,
			Title:    "Logbook approved",
			Category: model.CategoryLogbookApproved,
		},
	})
	require.NoError(t, err)
	return b
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestConnectOpensChannel(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)

	var states []State
	m.OnStateChange(func(s State) { states = append(states, s) })

	m.Connect("secret")

	assert.True(t, m.Connected())
	assert.Equal(t, []State{Connecting, Connected}, states)

	require.Equal(t, 1, d.dials())
	u, err := url.Parse(d.urls[0])
	require.NoError(t, err)
	assert.Equal(t, "secret", u.Query().Get("token"))
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "/ws/notifications/", u.Path)
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)

	m.Connect("secret")
	m.Connect("secret")

	assert.Equal(t, 1, d.dials())
}

func TestKeepaliveSendsPings(t *testing.T) {
	d := &fakeDialer{}
	m, clk, _ := newTestManager(t, d)
	m.Connect("secret")
	conn := d.last()

	clk.Advance(29 * time.Second)
	assert.Equal(t, 0, conn.pings())

	clk.Advance(time.Second)
	assert.Equal(t, 1, conn.pings())

	clk.Advance(30 * time.Second)
	assert.Equal(t, 2, conn.pings())
}

func TestNotificationForwarded(t *testing.T) {
	d := &fakeDialer{}
	m, _, box := newTestManager(t, d)
	m.Connect("secret")

	d.last().in <- notificationFrame(t, 42)

	require.Eventually(t, func() bool { return len(box.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{42}, box.ids())
}

func TestMalformedPayloadKeepsChannelOpen(t *testing.T) {
	d := &fakeDialer{}
	m, _, box := newTestManager(t, d)
	m.Connect("secret")
	conn := d.last()

	conn.in <- []byte("{not json")
	conn.in <- []byte(`{"type":"notification"}`)
	conn.in <- []byte(`{"type":"presence","user":7}`)
	conn.in <- notificationFrame(t, 7)

	require.Eventually(t, func() bool { return len(box.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Connected())
	assert.False(t, conn.isClosed())
}

func TestPongRecorded(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)
	m.Connect("secret")

	d.last().in <- []byte(`{"type":"pong"}`)

	require.Eventually(t, func() bool { return !m.LastPong().IsZero() }, time.Second, 5*time.Millisecond)
}

func TestCloseSchedulesOneReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, clk, _ := newTestManager(t, d)
	m.Connect("secret")

	d.last().Close()

	require.Eventually(t, func() bool { return m.State() == Disconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, clk.Pending(), "only the reconnect timer remains")

	clk.Advance(4 * time.Second)
	assert.Equal(t, 1, d.dials())

	clk.Advance(time.Second)
	assert.Equal(t, 2, d.dials())
	assert.True(t, m.Connected())
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	inlineDial(t)
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	var dialErrs []error
	m, err := New(Options{
		URL:         "wss://logbook.example.com/ws/notifications/",
		Dialer:      d,
		Clock:       clk,
		OnDialError: func(err error) { dialErrs = append(dialErrs, err) },
	}, nil)
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)

	m.Connect("secret")

	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 1, clk.Pending())
	assert.Len(t, dialErrs, 1)

	clk.Advance(5 * time.Second)
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, 1, clk.Pending(), "each failure schedules exactly one retry")

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	clk.Advance(5 * time.Second)
	assert.True(t, m.Connected())
}

func TestDisconnectCancelsEverything(t *testing.T) {
	d := &fakeDialer{}
	m, clk, _ := newTestManager(t, d)
	m.Connect("secret")
	conn := d.last()

	m.Disconnect()

	assert.Equal(t, Disconnected, m.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, 0, conn.pings())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m, clk, _ := newTestManager(t, d)
	m.Connect("secret")
	require.Equal(t, 1, clk.Pending())

	m.Disconnect()
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, d.dials())
}

func TestConnectReplacesPendingReconnect(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m, clk, _ := newTestManager(t, d)
	m.Connect("secret")
	require.Equal(t, 1, clk.Pending())

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	m.Connect("secret")

	assert.True(t, m.Connected())
	assert.Equal(t, 2, d.dials())

	// Only the keepalive timer is left; the old reconnect is gone.
	assert.Equal(t, 1, clk.Pending())
	clk.Advance(5 * time.Second)
	assert.Equal(t, 2, d.dials())
}

func TestStaleDialIsDiscarded(t *testing.T) {
	d := &fakeDialer{}
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	m, err := New(Options{URL: "wss://logbook.example.com/ws", Dialer: d, Clock: clk}, nil)
	require.NoError(t, err)

	var deferred func()
	orig := goFunc
	goFunc = func(fn func()) { deferred = fn }
	t.Cleanup(func() { goFunc = orig })

	m.Connect("secret")
	require.Equal(t, Connecting, m.State())
	m.Disconnect()

	deferred()

	assert.Equal(t, Disconnected, m.State())
	require.Equal(t, 0, d.dials(), "dial is skipped once superseded")
	assert.Equal(t, 0, clk.Pending())
}

func TestWebsocketEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	pinged := make(chan struct{}, 1)
	frame := notificationFrame(t, 99)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_ = ws.WriteMessage(websocket.TextMessage, frame)
		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypePing {
				select {
				case pinged <- struct{}{}:
				default:
				}
				_ = ws.WriteJSON(Message{Type: TypePong})
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	box := &inbox{}
	m, err := New(Options{
		URL:            wsURL,
		Keepalive:      20 * time.Millisecond,
		ReconnectDelay: time.Minute,
	}, box.ingest)
	require.NoError(t, err)
	defer m.Disconnect()

	m.Connect("secret")

	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(box.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{99}, box.ids())

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a keepalive ping")
	}
	require.Eventually(t, func() bool { return !m.LastPong().IsZero() }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	errs := make(chan error, 1)
	m, err := New(Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: time.Minute,
		OnDialError:    func(err error) { errs <- err },
	}, nil)
	require.NoError(t, err)
	defer m.Disconnect()

	m.Connect("expired")

	select {
	case err := <-errs:
		var hs *HandshakeError
		require.ErrorAs(t, err, &hs)
		assert.Equal(t, http.StatusUnauthorized, hs.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("dial error not reported")
	}
	assert.Equal(t, Disconnected, m.State())
}
