// Package delivery assembles the notification delivery client: the live
// channel, the polling fallback, the inbox and the event dispatcher, all
// scoped to one session.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/api"
	"github.com/nhle/logbook-notify/internal/channel"
	"github.com/nhle/logbook-notify/internal/clock"
	"github.com/nhle/logbook-notify/internal/events"
	"github.com/nhle/logbook-notify/internal/inbox"
	"github.com/nhle/logbook-notify/internal/logging"
	"github.com/nhle/logbook-notify/internal/metrics"
	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/session"
	"github.com/nhle/logbook-notify/internal/store"
	appsync "github.com/nhle/logbook-notify/internal/sync"
)

// PollCategory is the category name the notification poller runs under.
const PollCategory = "notifications"

// ErrNoSession is returned by Start when the session holds no token.
var ErrNoSession = errors.New("no active session")

// NotificationAPI is the REST surface the client needs.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	Stats(ctx context.Context) (model.Stats, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// Deps are the collaborators injected into a Client. Zero values select
// production defaults where one exists.
type Deps struct {
	API     NotificationAPI
	Clock   clock.Clock
	Window  *clock.Window
	Dialer  channel.Dialer
	Toaster inbox.Toaster
	// Cache is optional. When set the inbox writes through to it and the
	// last stats survive a restart.
	Cache   store.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Client owns every delivery component for one session.
type Client struct {
	cfg     model.AppConfig
	sess    *session.Session
	api     NotificationAPI
	cache   store.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	window  *clock.Window
	inbox   *inbox.Store
	events  *events.Dispatcher
	channel *channel.Manager
	poller  *appsync.Poller

	mu      sync.Mutex
	started bool
	stopped bool
	cancels []func()
}

// New builds a stopped Client.
func New(cfg model.AppConfig, sess *session.Session, deps Deps) (*Client, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	if deps.API == nil {
		deps.API = api.NewClient(cfg.Server.BaseURL, sess)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Window == nil {
		deps.Window = clock.NewWindow()
	}
	log := logging.OrNop(deps.Logger)

	c := &Client{
		cfg:     cfg,
		sess:    sess,
		api:     deps.API,
		cache:   deps.Cache,
		log:     log.Named("delivery"),
		metrics: deps.Metrics,
		window:  deps.Window,
	}

	var persister inbox.Persister
	if deps.Cache != nil {
		persister = deps.Cache
	}
	c.inbox = inbox.New(inbox.Options{
		Capacity:        cfg.Inbox.Capacity,
		ToastCategories: cfg.Inbox.Categories(),
		ToastDuration:   cfg.Inbox.ToastDuration(),
		Toaster:         deps.Toaster,
		Persister:       persister,
		Logger:          log,
		Metrics:         deps.Metrics,
	})

	c.events = events.New(deps.Clock, events.Options{
		Debounce:   cfg.Events.Debounce(),
		MaxWait:    cfg.Events.MaxWait(),
		MinSpacing: cfg.Events.MinSpacing(),
		Logger:     log,
	})

	ch, err := channel.New(channel.Options{
		URL:              cfg.Server.SocketURL,
		Keepalive:        cfg.Channel.Keepalive(),
		ReconnectDelay:   cfg.Channel.ReconnectDelay(),
		HandshakeTimeout: cfg.Channel.HandshakeTimeout(),
		Dialer:           deps.Dialer,
		Clock:            deps.Clock,
		Logger:           log,
		Metrics:          deps.Metrics,
		OnDialError:      c.onDialError,
	}, c.onPush)
	if err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}
	c.channel = ch

	limit := cfg.Poll.Limit
	c.poller = appsync.New(PollCategory,
		func(ctx context.Context) ([]model.Notification, error) {
			return c.api.ListNotifications(ctx, limit)
		},
		c.api.Stats,
		appsync.Options{
			BaseInterval: cfg.Poll.BaseInterval(),
			MaxInterval:  cfg.Poll.MaxInterval(),
			FetchTimeout: cfg.Poll.FetchTimeout(),
			Clock:        deps.Clock,
			Visibility:   deps.Window,
			Logger:       log,
			Metrics:      deps.Metrics,
		},
	)

	return c, nil
}

// Start warms the inbox from the cache, opens the live channel and starts
// polling. Ending the session stops everything.
func (c *Client) Start(ctx context.Context) error {
	token := c.sess.Token()
	if token == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.warm(ctx)

	cancels := []func(){
		c.poller.OnUpdate(c.onPoll),
		c.channel.OnStateChange(c.onState),
		c.sess.OnEnd(func(reason session.Reason) {
			c.log.Info("stopping after session end", zap.String("reason", string(reason)))
			c.Stop()
		}),
	}
	c.mu.Lock()
	c.cancels = cancels
	c.mu.Unlock()

	c.channel.Connect(token)
	c.poller.Start()
	c.log.Info("delivery client started")
	return nil
}

// Stop disconnects the channel, stops polling and drops pending event
// deliveries. The client cannot be restarted.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.stopped = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.channel.Disconnect()
	c.poller.Stop()
	c.events.Close()
	c.log.Info("delivery client stopped")
}

// MarkRead updates the inbox first and then tells the server. A server
// failure leaves the local flag set; the next poll reconciles it.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	if !c.inbox.MarkRead(id) {
		return nil
	}
	c.events.Publish(events.CategoryNotifications, id)

	if err := c.api.MarkRead(ctx, id); err != nil {
		c.checkAuth(err)
		return err
	}
	return nil
}

// MarkAllRead marks every held notification read locally and remotely.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if c.inbox.MarkAllRead() == nil {
		return nil
	}
	c.events.Publish(events.CategoryNotifications, nil)

	if err := c.api.MarkAllRead(ctx); err != nil {
		c.checkAuth(err)
		return err
	}
	return nil
}

// Refresh polls now without touching the backoff interval.
func (c *Client) Refresh(ctx context.Context) error {
	return c.poller.Refresh(ctx)
}

// Connected reports whether the live channel is open.
func (c *Client) Connected() bool { return c.channel.Connected() }

// Inbox returns the notification store.
func (c *Client) Inbox() *inbox.Store { return c.inbox }

// Events returns the dispatcher.
func (c *Client) Events() *events.Dispatcher { return c.events }

// Poller returns the polling fallback.
func (c *Client) Poller() *appsync.Poller { return c.poller }

// Channel returns the live channel manager.
func (c *Client) Channel() *channel.Manager { return c.channel }

// Window returns the visibility switch driven by terminal focus.
func (c *Client) Window() *clock.Window { return c.window }

// Session returns the session the client is scoped to.
func (c *Client) Session() *session.Session { return c.sess }

func (c *Client) warm(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.inbox.Load(ctx); err != nil {
		c.log.Warn("loading cached notifications", zap.Error(err))
	}
	stats, err := c.cache.LoadStats(ctx)
	switch {
	case errors.Is(err, store.ErrNoStats):
	case err != nil:
		c.log.Warn("loading cached stats", zap.Error(err))
	default:
		c.inbox.ApplyStats(stats)
	}
}

func (c *Client) onPush(n model.Notification) {
	if c.inbox.Ingest(n) {
		c.events.Publish(events.CategoryNotifications, n)
	}
}

func (c *Client) onPoll(res appsync.Result) {
	if res.Err != nil {
		c.checkAuth(res.Err)
	} else {
		c.inbox.Reconcile(res.Notifications)
		c.events.Publish(events.CategoryNotifications, nil)
	}

	if res.Stats == nil {
		return
	}
	c.inbox.ApplyStats(*res.Stats)
	c.events.Publish(events.CategoryStats, *res.Stats)
	if c.cache != nil {
		if err := c.cache.SaveStats(context.Background(), *res.Stats); err != nil {
			c.log.Warn("caching stats", zap.Error(err))
		}
	}
}

func (c *Client) onState(s channel.State) {
	c.events.Publish(events.CategoryConnection, s)
}

func (c *Client) onDialError(err error) {
	var hs *channel.HandshakeError
	if errors.As(err, &hs) && hs.StatusCode == http.StatusUnauthorized {
		c.sess.End(session.ReasonUnauthorized)
	}
}

func (c *Client) checkAuth(err error) {
	if api.IsAuthError(err) {
		c.sess.End(session.ReasonUnauthorized)
	}
}
