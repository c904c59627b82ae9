// Package channel keeps a single live push connection open while a session
// token is available. It sends keepalive pings, forwards notification
// messages and reconnects after a fixed delay whenever the channel closes.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/clock"
	"github.com/nhle/logbook-notify/internal/logging"
	"github.com/nhle/logbook-notify/internal/metrics"
	"github.com/nhle/logbook-notify/internal/model"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Message type tags.
const (
	TypeNotification = "notification"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification,omitempty"`
}

// Defaults.
const (
	DefaultKeepalive        = 30 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrNoURL is returned by New when Options.URL is empty.
var ErrNoURL = errors.New("channel: push URL is required")

// goFunc starts a dial. Tests replace it to run inline.
var goFunc = func(fn func()) { go fn() }

// Options configures a Manager.
type Options struct {
	URL              string
	ClientID         string
	Keepalive        time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Dialer           Dialer
	Clock            clock.Clock
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	// OnDialError, when set, sees every failed dial after the reconnect
	// has been scheduled.
	OnDialError func(error)
}

// Manager owns the push connection.
type Manager struct {
	base             *url.URL
	clientID         string
	keepaliveEvery   time.Duration
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	dialer           Dialer
	clock            clock.Clock
	log              *zap.Logger
	metrics          *metrics.Metrics
	onNotification   func(model.Notification)
	onDialError      func(error)

	mu        sync.Mutex
	state     State
	gen       int
	token     string
	conn      Conn
	reconnect clock.Timer
	keepalive clock.Timer
	lastPong  time.Time

	nextListener int
	listeners    map[int]func(State)
}

// New creates a disconnected Manager. onNotification receives every
// notification message and must not block.
func New(opts Options, onNotification func(model.Notification)) (*Manager, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing push URL: %w", err)
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if onNotification == nil {
		onNotification = func(model.Notification) {}
	}

	return &Manager{
		base:             base,
		clientID:         opts.ClientID,
		keepaliveEvery:   opts.Keepalive,
		reconnectDelay:   opts.ReconnectDelay,
		handshakeTimeout: opts.HandshakeTimeout,
		dialer:           opts.Dialer,
		clock:            opts.Clock,
		log:              logging.OrNop(opts.Logger).Named("channel"),
		metrics:          opts.Metrics,
		onNotification:   onNotification,
		onDialError:      opts.OnDialError,
		listeners:        make(map[int]func(State)),
	}, nil
}

// Connect opens the channel with token. It returns at once; the dial runs
// in the background. Calling Connect while connecting or connected does
// nothing. A pending reconnect is cancelled and replaced by this attempt.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.token = token
	m.stopTimerLocked(&m.reconnect)
	gen := m.beginDialLocked()
	m.mu.Unlock()

	m.emit(Connecting)
	goFunc(func() { m.dial(gen) })
}

// Disconnect closes the channel and cancels every timer. No reconnect
// happens until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.token = ""
	m.stopTimerLocked(&m.reconnect)
	m.stopTimerLocked(&m.keepalive)
	conn := m.conn
	m.conn = nil
	changed := m.state != Disconnected
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug("close failed", zap.Error(err))
		}
	}
	if changed {
		m.metrics.SetConnected(false)
		m.log.Info("channel disconnected")
		m.emit(Disconnected)
	}
}

// Connected reports whether the channel is open.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastPong returns when the server last answered a ping.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// ClientID identifies this client instance to the server.
func (m *Manager) ClientID() string {
	return m.clientID
}

// OnStateChange registers fn for state transitions. fn runs on whichever
// goroutine caused the transition. The returned func removes it.
func (m *Manager) OnStateChange(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) beginDialLocked() int {
	m.gen++
	m.state = Connecting
	return m.gen
}

func (m *Manager) dialURL(token string) string {
	u := *m.base
	q := u.Query()
	q.Set("token", token)
	q.Set("client_id", m.clientID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) dial(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	target := m.dialURL(m.token)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout)
	defer cancel()
	conn, err := m.dialer.Dial(ctx, target)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		m.log.Debug("discarding stale dial")
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("dial failed", zap.Error(err))
		m.closed(gen)
		if m.onDialError != nil {
			m.onDialError(err)
		}
		return
	}
	m.conn = conn
	m.state = Connected
	m.armKeepaliveLocked(gen)
	m.mu.Unlock()

	m.metrics.SetConnected(true)
	m.log.Info("channel connected", zap.String("client_id", m.clientID))
	m.emit(Connected)

	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := gen == m.gen
			m.mu.Unlock()
			if current {
				m.log.Warn("channel read failed", zap.Error(err))
			}
			m.closed(gen)
			return
		}
		m.handle(gen, data)
	}
}

func (m *Manager) handle(gen int, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.metrics.IncMalformed()
		m.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	m.metrics.IncInbound(msg.Type)

	switch msg.Type {
	case TypeNotification:
		if msg.Notification == nil {
			m.metrics.IncMalformed()
			m.log.Warn("notification message without payload")
			return
		}
		m.mu.Lock()
		current := gen == m.gen
		m.mu.Unlock()
		if !current {
			return
		}
		m.onNotification(*msg.Notification)
	case TypePong:
		m.mu.Lock()
		m.lastPong = m.clock.Now()
		m.mu.Unlock()
	default:
		m.log.Debug("ignoring message", zap.String("type", msg.Type))
	}
}

// closed runs the close path for generation gen: stop keepalive, mark
// disconnected and schedule exactly one reconnect.
func (m *Manager) closed(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimerLocked(&m.keepalive)
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.stopTimerLocked(&m.reconnect)
	next := m.gen
	m.reconnect = m.clock.AfterFunc(m.reconnectDelay, func() { m.redial(next) })
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.metrics.SetConnected(false)
	m.metrics.IncReconnect()
	m.log.Info("channel closed, reconnect scheduled", zap.Duration("delay", m.reconnectDelay))
	m.emit(Disconnected)
}

func (m *Manager) redial(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != Disconnected || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	next := m.beginDialLocked()
	m.mu.Unlock()

	m.emit(Connecting)
	goFunc(func() { m.dial(next) })
}

func (m *Manager) armKeepaliveLocked(gen int) {
	m.stopTimerLocked(&m.keepalive)
	m.keepalive = m.clock.AfterFunc(m.keepaliveEvery, func() { m.ping(gen) })
}

func (m *Manager) ping(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.armKeepaliveLocked(gen)
	m.mu.Unlock()

	// A failed write is only logged; the read side sees the broken
	// connection and runs the close path.
	if err := conn.WriteJSON(Message{Type: TypePing}); err != nil {
		m.log.Warn("keepalive write failed", zap.Error(err))
	}
}

func (m *Manager) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) emit(s State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
