package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/clock"
	"github.com/nhle/logbook-notify/internal/logging"
	"github.com/nhle/logbook-notify/internal/metrics"
	"github.com/nhle/logbook-notify/internal/model"
)

// SyncState represents the current state of a poll cycle.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the poll state for one category.
type SyncStatus struct {
	Category string
	State    SyncState
	LastSync time.Time
	Error    error
	Interval time.Duration
	Running  bool
}

// Trigger names what caused a fetch.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerTick
	TriggerVisible
	TriggerRefresh
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerTick:
		return "tick"
	case TriggerVisible:
		return "visible"
	case TriggerRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Result is passed to update listeners after every fetch.
type Result struct {
	Category      string
	Trigger       Trigger
	Notifications []model.Notification
	// Stats is nil when the stats fetch failed or is not configured.
	Stats *model.Stats
	Err   error
	At    time.Time
}

// FetchFunc loads the latest notifications.
type FetchFunc func(ctx context.Context) ([]model.Notification, error)

// StatsFunc loads the server-side summary.
type StatsFunc func(ctx context.Context) (model.Stats, error)

// Default intervals.
const (
	DefaultBaseInterval = 10 * time.Second
	DefaultMaxInterval  = 60 * time.Second
	// fetchTimeout is the maximum time allowed for a single fetch operation.
	fetchTimeout = 30 * time.Second
)

// ErrNotRunning is returned by Refresh after Stop.
var ErrNotRunning = errors.New("poller is not running")

// goFunc runs background work. Tests replace it to run inline.
var goFunc = func(fn func()) { go fn() }

// Options configures a Poller.
type Options struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	FetchTimeout time.Duration
	Clock        clock.Clock
	// Visibility gates scheduled fetches. Nil means always visible.
	Visibility clock.Visibility
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Poller fetches one category on an adaptive schedule. Failures double the
// period up to MaxInterval; a success resets it to BaseInterval. Scheduled
// fetches are skipped while the client is hidden, and becoming visible
// triggers an immediate fetch.
type Poller struct {
	category string
	fetch    FetchFunc
	stats    StatsFunc

	base         time.Duration
	max          time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	visibility   clock.Visibility
	log          *zap.Logger
	metrics      *metrics.Metrics

	mu            gosync.Mutex
	running       bool
	gen           int
	timer         clock.Timer
	stopVisible   func()
	interval      time.Duration
	status        SyncStatus
	notifications []model.Notification
	lastStats     *model.Stats
	lastErr       error

	nextListener int
	listeners    map[int]func(Result)
}

// New creates a Poller for category.
func New(category string, fetch FetchFunc, stats StatsFunc, opts Options) *Poller {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = DefaultBaseInterval
	}
	if opts.MaxInterval < opts.BaseInterval {
		opts.MaxInterval = DefaultMaxInterval
		if opts.MaxInterval < opts.BaseInterval {
			opts.MaxInterval = opts.BaseInterval
		}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = fetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Poller{
		category:     category,
		fetch:        fetch,
		stats:        stats,
		base:         opts.BaseInterval,
		max:          opts.MaxInterval,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		visibility:   opts.Visibility,
		log:          logging.OrNop(opts.Logger).Named("poller").With(zap.String("category", category)),
		metrics:      opts.Metrics,
		interval:     opts.BaseInterval,
		status:       SyncStatus{Category: category, State: SyncIdle, Interval: opts.BaseInterval},
		listeners:    make(map[int]func(Result)),
	}
}

// Start fetches immediately and then keeps polling until Stop. Calling
// Start on a running poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.gen++
	gen := p.gen
	p.interval = p.base
	if p.visibility != nil {
		p.stopVisible = p.visibility.OnVisible(p.onVisible)
	}
	p.mu.Unlock()

	p.log.Debug("poller started")
	goFunc(func() { p.cycle(gen, TriggerStart) })
}

// Stop cancels the pending timer and the visibility listener. A fetch
// already in flight finishes but its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	stopVisible := p.stopVisible
	p.stopVisible = nil
	p.mu.Unlock()

	if stopVisible != nil {
		stopVisible()
	}
	p.log.Debug("poller stopped")
}

// Refresh fetches now on the caller's goroutine. It updates the list,
// stats and error but leaves the backoff interval alone.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	gen := p.gen
	p.mu.Unlock()

	res := p.run(ctx, gen, TriggerRefresh)
	return res.Err
}

// OnUpdate registers fn to receive every fetch result. The returned func
// removes it.
func (p *Poller) OnUpdate(fn func(Result)) (cancel func()) {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Notifications returns the latest fetched list.
func (p *Poller) Notifications() []model.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Notification(nil), p.notifications...)
}

// Stats returns the latest stats, if any fetch of them has succeeded.
func (p *Poller) Stats() (model.Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastStats == nil {
		return model.Stats{}, false
	}
	return *p.lastStats, true
}

// Err returns the error from the latest list fetch, or nil.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Interval returns the period that will be used for the next scheduled
// fetch.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// State returns the current sync state.
func (p *Poller) State() SyncState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State
}

// Status returns a snapshot of the poll state.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.Interval = p.interval
	st.Running = p.running
	return st
}

func (p *Poller) onVisible() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	gen := p.gen
	p.mu.Unlock()

	goFunc(func() { p.run(context.Background(), gen, TriggerVisible) })
}

// cycle is one scheduled step: fetch unless hidden, adjust the interval,
// and arm the next timer.
func (p *Poller) cycle(gen int, trigger Trigger) {
	if trigger == TriggerTick && p.visibility != nil && !p.visibility.Visible() {
		p.log.Debug("hidden, skipping scheduled fetch")
		p.arm(gen)
		return
	}

	res := p.run(context.Background(), gen, trigger)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if res.Err != nil {
		p.interval *= 2
		if p.interval > p.max {
			p.interval = p.max
		}
	} else {
		p.interval = p.base
	}
	interval := p.interval
	p.mu.Unlock()

	p.metrics.ObservePoll(res.Err == nil, interval)
	if res.Err != nil {
		p.log.Warn("poll failed",
			zap.Error(res.Err),
			zap.Duration("next", interval),
		)
	}
	p.arm(gen)
}

func (p *Poller) arm(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || gen != p.gen {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.interval, func() { p.cycle(gen, TriggerTick) })
}

// run performs one fetch of the list and the stats and publishes the
// result. It never changes the interval.
func (p *Poller) run(ctx context.Context, gen int, trigger Trigger) Result {
	p.setState(gen, SyncRunning, nil)

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	res := Result{Category: p.category, Trigger: trigger}
	res.Notifications, res.Err = p.fetch(fetchCtx)

	if p.stats != nil {
		stats, err := p.stats(fetchCtx)
		if err != nil {
			p.log.Debug("stats fetch failed", zap.Error(err))
		} else {
			res.Stats = &stats
		}
	}
	res.At = p.clock.Now()

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return res
	}
	if res.Err != nil {
		p.lastErr = res.Err
		p.status.State = SyncError
		p.status.Error = res.Err
	} else {
		p.lastErr = nil
		p.notifications = res.Notifications
		p.status.State = SyncIdle
		p.status.Error = nil
		p.status.LastSync = res.At
	}
	if res.Stats != nil {
		p.lastStats = res.Stats
	}
	fns := make([]func(Result), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
	return res
}

func (p *Poller) setState(gen int, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.status.State = state
	p.status.Error = err
}
