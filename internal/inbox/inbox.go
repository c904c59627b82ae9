// Package inbox holds the bounded, deduplicated list of recent
// notifications and the cached unread count.
package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/logging"
	"github.com/nhle/logbook-notify/internal/metrics"
	"github.com/nhle/logbook-notify/internal/model"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 50

// persistTimeout bounds a single write-through to the cache.
const persistTimeout = 5 * time.Second

// Toaster renders a transient message. Calls are fire-and-forget.
type Toaster interface {
	Toast(title, body string, duration time.Duration)
}

// ToasterFunc adapts a function to Toaster.
type ToasterFunc func(title, body string, duration time.Duration)

// Toast calls f.
func (f ToasterFunc) Toast(title, body string, duration time.Duration) {
	f(title, body, duration)
}

// Persister is the write-through cache behind the inbox.
type Persister interface {
	SaveNotifications(ctx context.Context, ns []model.Notification) error
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	PruneNotifications(ctx context.Context, keep int) error
	RecentNotifications(ctx context.Context, limit int) ([]model.Notification, error)
}

// Options configures a Store.
type Options struct {
	Capacity        int
	ToastCategories []model.Category
	ToastDuration   time.Duration
	Toaster         Toaster
	Persister       Persister
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Store is the single writer of notification read flags. Newest entries
// are at index 0.
type Store struct {
	mu       sync.Mutex
	items    []model.Notification
	present  map[int64]struct{}
	unread   int
	capacity int

	toastable     map[model.Category]struct{}
	toastDuration time.Duration
	toaster       Toaster
	persister     Persister
	log           *zap.Logger
	metrics       *metrics.Metrics

	nextListener int
	listeners    map[int]func()
}

// New creates an empty Store.
func New(opts Options) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	toastable := make(map[model.Category]struct{}, len(opts.ToastCategories))
	for _, c := range opts.ToastCategories {
		toastable[c] = struct{}{}
	}
	return &Store{
		present:       make(map[int64]struct{}),
		capacity:      capacity,
		toastable:     toastable,
		toastDuration: opts.ToastDuration,
		toaster:       opts.Toaster,
		persister:     opts.Persister,
		log:           logging.OrNop(opts.Logger).Named("inbox"),
		metrics:       opts.Metrics,
		listeners:     make(map[int]func()),
	}
}

// Load fills an empty store from the persister. Cached read flags are
// trusted until the next poll reconciles them.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	cached, err := s.persister.RecentNotifications(ctx, s.capacity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, n := range cached {
		if _, ok := s.present[n.ID]; ok {
			continue
		}
		s.items = append(s.items, n)
		s.present[n.ID] = struct{}{}
		if !n.Read {
			s.unread++
		}
	}
	sortNewestFirst(s.items)
	s.truncateLocked()
	unread := s.unread
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.notify()
	return nil
}

// Ingest inserts n at the front unless its id is already present. It
// reports whether n was added. Categories on the toast allow-list raise a
// toast.
func (s *Store) Ingest(n model.Notification) bool {
	s.mu.Lock()
	if _, ok := s.present[n.ID]; ok {
		s.mu.Unlock()
		s.metrics.IncDuplicate()
		s.log.Debug("duplicate notification ignored", zap.Int64("id", n.ID))
		return false
	}

	s.items = append([]model.Notification{n}, s.items...)
	s.present[n.ID] = struct{}{}
	if !n.Read {
		s.unread++
	}
	s.truncateLocked()
	unread := s.unread
	_, toast := s.toastable[n.Category]
	s.mu.Unlock()

	s.metrics.IncIngested()
	s.metrics.SetUnread(unread)
	s.log.Debug("notification ingested",
		zap.Int64("id", n.ID),
		zap.String("category", string(n.Category)),
	)

	if toast && s.toaster != nil {
		s.metrics.IncToast(string(n.Category))
		s.toaster.Toast(n.Title, n.Body, s.toastDuration)
	}

	s.persist(func(ctx context.Context, p Persister) error {
		if err := p.SaveNotifications(ctx, []model.Notification{n}); err != nil {
			return err
		}
		return p.PruneNotifications(ctx, s.capacity)
	})
	s.notify()
	return true
}

// Reconcile merges a polled list without raising toasts. Unknown ids are
// slotted in by age, a server-side read flag is adopted, and the result is
// truncated to capacity. Entries already held keep their order.
func (s *Store) Reconcile(polled []model.Notification) {
	s.mu.Lock()
	pos := make(map[int64]int, len(s.items))
	for i, n := range s.items {
		pos[n.ID] = i
	}

	var fresh []model.Notification
	changed := false
	for _, n := range polled {
		if i, ok := pos[n.ID]; ok {
			if n.Read && !s.items[i].Read {
				s.items[i].Read = true
				s.decrementLocked()
				changed = true
			}
			continue
		}
		if _, ok := s.present[n.ID]; ok {
			continue
		}
		fresh = append(fresh, n)
		s.present[n.ID] = struct{}{}
		changed = true
	}

	if !changed {
		s.mu.Unlock()
		return
	}

	added := make(map[int64]bool, len(fresh))
	sortNewestFirst(fresh)
	for _, n := range fresh {
		s.items = insertByAge(s.items, n)
		added[n.ID] = !n.Read
	}
	s.truncateLocked()
	for _, n := range s.items {
		if unread, ok := added[n.ID]; ok && unread {
			s.unread++
		}
	}
	unread := s.unread
	snapshot := append([]model.Notification(nil), s.items...)
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.persist(func(ctx context.Context, p Persister) error {
		if err := p.SaveNotifications(ctx, snapshot); err != nil {
			return err
		}
		return p.PruneNotifications(ctx, s.capacity)
	})
	s.notify()
}

// ApplyStats replaces the cached unread counter with the server's count.
func (s *Store) ApplyStats(stats model.Stats) {
	unread := stats.Unread
	if unread < 0 {
		unread = 0
	}

	s.mu.Lock()
	if s.unread == unread {
		s.mu.Unlock()
		return
	}
	s.unread = unread
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.notify()
}

// MarkRead flips the read flag for id. The unread counter drops by one,
// never below zero. It reports whether anything changed; repeated calls
// for the same id are no-ops.
func (s *Store) MarkRead(id int64) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 || s.items[i].Read {
		s.mu.Unlock()
		return false
	}
	s.items[i].Read = true
	s.decrementLocked()
	unread := s.unread
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.persist(func(ctx context.Context, p Persister) error {
		return p.MarkNotificationRead(ctx, id)
	})
	s.notify()
	return true
}

// MarkAllRead marks every held notification read and zeroes the counter.
// It returns the ids that changed, or nil when there was nothing unread.
func (s *Store) MarkAllRead() []int64 {
	s.mu.Lock()
	var ids []int64
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			ids = append(ids, s.items[i].ID)
		}
	}
	hadUnread := s.unread > 0
	s.unread = 0
	s.mu.Unlock()

	if len(ids) == 0 && !hadUnread {
		return nil
	}
	if ids == nil {
		ids = []int64{}
	}

	s.metrics.SetUnread(0)
	s.persist(func(ctx context.Context, p Persister) error {
		return p.MarkAllNotificationsRead(ctx)
	})
	s.notify()
	return ids
}

// List returns a copy of the notifications, newest first.
func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.items...)
}

// Get returns the notification with id, if held.
func (s *Store) Get(id int64) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return model.Notification{}, false
}

// UnreadCount returns the cached unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Len returns the number of held notifications.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// OnChange registers fn to run after every mutation. The returned func
// removes it.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) persist(op func(ctx context.Context, p Persister) error) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := op(ctx, s.persister); err != nil {
		s.log.Warn("inbox cache write failed", zap.Error(err))
	}
}

func (s *Store) indexLocked(id int64) int {
	if _, ok := s.present[id]; !ok {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) decrementLocked() {
	if s.unread > 0 {
		s.unread--
	}
}

// truncateLocked drops the oldest entries beyond capacity.
func (s *Store) truncateLocked() {
	if len(s.items) <= s.capacity {
		return
	}
	for _, n := range s.items[s.capacity:] {
		delete(s.present, n.ID)
	}
	s.items = s.items[:s.capacity:s.capacity]
}

// insertByAge places n ahead of the first held entry it is newer than.
// Entries without a timestamp are never passed over.
func insertByAge(items []model.Notification, n model.Notification) []model.Notification {
	at := len(items)
	for i, cur := range items {
		if cur.CreatedAt.IsZero() {
			continue
		}
		if newerThan(n, cur) {
			at = i
			break
		}
	}
	items = append(items, model.Notification{})
	copy(items[at+1:], items[at:])
	items[at] = n
	return items
}

func newerThan(a, b model.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(items []model.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return newerThan(items[i], items[j])
	})
}
