package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/logbook-notify/internal/clock"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type delivery struct {
	at time.Time
	ev Event
}

func newDispatcher(t *testing.T) (*Dispatcher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(start)
	return New(clk, Options{}), clk
}

func record(clk *clock.Fake, out *[]delivery) func(Event) {
	return func(ev Event) {
		*out = append(*out, delivery{at: clk.Now(), ev: ev})
	}
}

func TestBurstCoalescesToLatest(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe([]string{CategoryNotifications}, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	clk.Advance(100 * time.Millisecond)
	d.Publish(CategoryNotifications, "B")

	clk.Advance(299 * time.Millisecond)
	assert.Empty(t, got)

	clk.Advance(time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ev.Payload)
	assert.Equal(t, start.Add(400*time.Millisecond), got[0].at)

	clk.Advance(5 * time.Second)
	assert.Len(t, got, 1)
}

func TestMaxWaitBoundsSteadyStream(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, record(clk, &got))

	for i := 0; i < 8; i++ {
		d.Publish(CategoryStats, i)
		clk.Advance(200 * time.Millisecond)
	}

	require.NotEmpty(t, got)
	assert.Equal(t, start.Add(time.Second), got[0].at)
	assert.Equal(t, 4, got[0].ev.Payload)
}

func TestMinSpacingBetweenDeliveries(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	clk.Advance(300 * time.Millisecond)
	require.Len(t, got, 1)

	clk.Advance(200 * time.Millisecond)
	d.Publish(CategoryNotifications, "C")
	clk.Advance(2 * time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, "C", got[1].ev.Payload)
	assert.Equal(t, start.Add(1300*time.Millisecond), got[1].at)
}

func TestCategoryFiltering(t *testing.T) {
	d, clk := newDispatcher(t)
	var notes, all []delivery
	d.Subscribe([]string{CategoryNotifications}, record(clk, &notes))
	d.Subscribe(nil, record(clk, &all))

	d.Publish(CategoryConnection, true)
	clk.Advance(time.Second)

	assert.Empty(t, notes)
	require.Len(t, all, 1)
	assert.Equal(t, CategoryConnection, all[0].ev.Category)
}

func TestSubscribersAreIndependent(t *testing.T) {
	d, clk := newDispatcher(t)
	var a, b []delivery
	d.Subscribe(nil, record(clk, &a))

	d.Publish(CategoryStats, 1)
	clk.Advance(300 * time.Millisecond)

	d.Subscribe(nil, record(clk, &b))
	d.Publish(CategoryStats, 2)
	clk.Advance(300 * time.Millisecond)

	assert.Len(t, a, 1, "a is still inside its spacing window")
	require.Len(t, b, 1)
	assert.Equal(t, 2, b[0].ev.Payload)

	clk.Advance(time.Second)
	require.Len(t, a, 2)
	assert.Equal(t, 2, a[1].ev.Payload)
}

func TestUnsubscribeCancelsPending(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	unsubscribe := d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	require.Equal(t, 1, clk.Pending())

	unsubscribe()
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 0, d.Subscribers())

	clk.Advance(5 * time.Second)
	assert.Empty(t, got)

	assert.NotPanics(t, unsubscribe)
}

func TestCloseDropsEverything(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, record(clk, &got))
	d.Publish(CategoryNotifications, "A")

	d.Close()
	d.Publish(CategoryNotifications, "B")
	clk.Advance(5 * time.Second)

	assert.Empty(t, got)
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, 0, d.Subscribers())

	unsubscribe := d.Subscribe(nil, record(clk, &got))
	assert.NotPanics(t, unsubscribe)
}

func TestPanickingSubscriberIsContained(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, func(Event) { panic("boom") })
	d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	assert.NotPanics(t, func() { clk.Advance(time.Second) })
	assert.Len(t, got, 1)
}

func TestCategoriesCoalesceSeparately(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryConnection, "connecting")
	clk.Advance(20 * time.Millisecond)
	d.Publish(CategoryConnection, "connected")
	clk.Advance(30 * time.Millisecond)
	d.Publish(CategoryNotifications, "first")
	clk.Advance(50 * time.Millisecond)
	d.Publish(CategoryNotifications, "second")
	clk.Advance(5 * time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, CategoryConnection, got[0].ev.Category)
	assert.Equal(t, "connected", got[0].ev.Payload)
	assert.Equal(t, start.Add(320*time.Millisecond), got[0].at)
	assert.Equal(t, CategoryNotifications, got[1].ev.Category)
	assert.Equal(t, "second", got[1].ev.Payload)
	assert.Equal(t, start.Add(400*time.Millisecond), got[1].at)
}

func TestMultiCategorySubscriberGetsEachCategory(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe([]string{CategoryNotifications, CategoryStats}, record(clk, &got))

	d.Publish(CategoryStats, 7)
	d.Publish(CategoryNotifications, nil)
	d.Publish(CategoryConnection, true)
	clk.Advance(time.Second)

	require.Len(t, got, 2)
	seen := map[string]bool{}
	for _, g := range got {
		seen[g.ev.Category] = true
	}
	assert.True(t, seen[CategoryStats])
	assert.True(t, seen[CategoryNotifications])
	assert.False(t, seen[CategoryConnection])
}

func TestMinSpacingIsPerCategory(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	clk.Advance(300 * time.Millisecond)
	require.Len(t, got, 1)

	d.Publish(CategoryConnection, "up")
	clk.Advance(300 * time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, start.Add(600*time.Millisecond), got[1].at)
}

func TestUnsubscribeCancelsEveryCategory(t *testing.T) {
	d, clk := newDispatcher(t)
	var got []delivery
	unsubscribe := d.Subscribe(nil, record(clk, &got))

	d.Publish(CategoryNotifications, "A")
	d.Publish(CategoryStats, 1)
	require.Equal(t, 2, clk.Pending())

	unsubscribe()
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(5 * time.Second)
	assert.Empty(t, got)
}
