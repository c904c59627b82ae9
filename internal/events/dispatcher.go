// Package events fans change signals out to subscribers. Each subscriber
// sees at most one delivery per burst of a category, carrying the latest
// event of that category.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/clock"
	"github.com/nhle/logbook-notify/internal/logging"
)

// Categories published by the delivery client.
const (
	CategoryNotifications = "notifications"
	CategoryStats         = "stats"
	CategoryConnection    = "connection"
)

// Default coalescing windows.
const (
	DefaultDebounce   = 300 * time.Millisecond
	DefaultMaxWait    = time.Second
	DefaultMinSpacing = time.Second
)

// Event is a published change signal.
type Event struct {
	Category string
	Payload  any
	At       time.Time
}

// Options sets the coalescing windows. Zero values take the defaults.
type Options struct {
	// Debounce is the quiet period after the last publish before delivery.
	Debounce time.Duration
	// MaxWait caps how long a pending event can be held back by a steady
	// stream of publishes.
	MaxWait time.Duration
	// MinSpacing is the minimum gap between two deliveries of the same
	// category to the same subscriber.
	MinSpacing time.Duration
	Logger     *zap.Logger
}

// Dispatcher routes events to subscribers by category.
type Dispatcher struct {
	clock clock.Clock
	opts  Options
	log   *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

// New creates a Dispatcher on clk.
func New(clk clock.Clock, opts Options) *Dispatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.MinSpacing < 0 {
		opts.MinSpacing = 0
	}
	return &Dispatcher{
		clock: clk,
		opts:  opts,
		log:   logging.OrNop(opts.Logger).Named("events"),
		subs:  make(map[int]*subscriber),
	}
}

// Subscribe registers fn for the given categories. An empty set matches
// every category. The returned func unsubscribes; it is safe to call more
// than once and cancels any pending delivery.
func (d *Dispatcher) Subscribe(categories []string, fn func(Event)) (unsubscribe func()) {
	s := &subscriber{d: d, fn: fn}
	if len(categories) > 0 {
		s.categories = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			s.categories[c] = struct{}{}
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = s
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
		s.close()
	}
}

// Publish offers an event to every matching subscriber.
func (d *Dispatcher) Publish(category string, payload any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		if s.matches(category) {
			targets = append(targets, s)
		}
	}
	d.mu.Unlock()

	ev := Event{Category: category, Payload: payload, At: d.clock.Now()}
	for _, s := range targets {
		s.offer(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close drops every subscriber and cancels pending deliveries. Later
// publishes are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[int]*subscriber)
	d.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

type subscriber struct {
	d          *Dispatcher
	categories map[string]struct{}
	fn         func(Event)

	mu      sync.Mutex
	closed  bool
	windows map[string]*window
}

// window is the coalescing state of one category for one subscriber.
type window struct {
	timer        clock.Timer
	gen          int
	pending      *Event
	firstPending time.Time
	lastPublish  time.Time
	lastFire     time.Time
	hasFired     bool
}

func (s *subscriber) matches(category string) bool {
	if s.categories == nil {
		return true
	}
	_, ok := s.categories[category]
	return ok
}

func (s *subscriber) offer(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.windows == nil {
		s.windows = make(map[string]*window)
	}
	w, ok := s.windows[ev.Category]
	if !ok {
		w = &window{}
		s.windows[ev.Category] = w
	}

	now := ev.At
	if w.pending == nil {
		w.firstPending = now
	}
	w.pending = &ev
	w.lastPublish = now

	fireAt := w.fireAt(s.d.opts)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen, category := w.gen, ev.Category
	w.timer = s.d.clock.AfterFunc(fireAt.Sub(now), func() { s.fire(category, gen) })
}

// fireAt is min(lastPublish+Debounce, firstPending+MaxWait), pushed back to
// lastFire+MinSpacing when that is later.
func (w *window) fireAt(opts Options) time.Time {
	at := w.lastPublish.Add(opts.Debounce)
	if capAt := w.firstPending.Add(opts.MaxWait); capAt.Before(at) {
		at = capAt
	}
	if w.hasFired {
		if spaced := w.lastFire.Add(opts.MinSpacing); spaced.After(at) {
			at = spaced
		}
	}
	return at
}

func (s *subscriber) fire(category string, gen int) {
	s.mu.Lock()
	w := s.windows[category]
	if s.closed || w == nil || gen != w.gen || w.pending == nil {
		s.mu.Unlock()
		return
	}
	ev := *w.pending
	w.pending = nil
	w.timer = nil
	w.lastFire = s.d.clock.Now()
	w.hasFired = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.d.log.Error("subscriber panicked",
				zap.String("category", ev.Category),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, w := range s.windows {
		w.pending = nil
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
	}
}
