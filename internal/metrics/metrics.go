// Package metrics exposes Prometheus collectors for the delivery client.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logbook_notify"

// Metrics holds the client's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	channelConnected prometheus.Gauge
	reconnects       prometheus.Counter
	inbound          *prometheus.CounterVec
	malformed        prometheus.Counter

	pollAttempts *prometheus.CounterVec
	pollInterval prometheus.Gauge

	ingested   prometheus.Counter
	duplicates prometheus.Counter
	unread     prometheus.Gauge
	toasts     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		channelConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_connected",
			Help:      "1 while the live notification channel is open",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnects_total",
			Help:      "Reconnect attempts scheduled after the channel closed",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Inbound channel messages by type tag",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_malformed_total",
			Help:      "Inbound payloads dropped because they could not be parsed",
		}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Poll fetches by result",
		}, []string{"result"}),
		pollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Current poll period including backoff",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_ingested_total",
			Help:      "Notifications added to the inbox",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_duplicates_total",
			Help:      "Deliveries ignored because the id was already present",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_unread",
			Help:      "Cached unread notification count",
		}),
		toasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_total",
			Help:      "Toasts raised by category",
		}, []string{"category"}),
	}

	m.registry.MustRegister(
		m.channelConnected,
		m.reconnects,
		m.inbound,
		m.malformed,
		m.pollAttempts,
		m.pollInterval,
		m.ingested,
		m.duplicates,
		m.unread,
		m.toasts,
	)
	return m
}

// Registry returns the registry holding the client's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetConnected records the channel state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.channelConnected.Set(1)
	} else {
		m.channelConnected.Set(0)
	}
}

// IncReconnect counts a scheduled reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncInbound counts an inbound message by its type tag.
func (m *Metrics) IncInbound(tag string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(tag).Inc()
}

// IncMalformed counts a dropped payload.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// ObservePoll records a poll result and the interval now in effect.
func (m *Metrics) ObservePoll(ok bool, interval time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.pollAttempts.WithLabelValues(result).Inc()
	m.pollInterval.Set(interval.Seconds())
}

// IncIngested counts a notification added to the inbox.
func (m *Metrics) IncIngested() {
	if m == nil {
		return
	}
	m.ingested.Inc()
}

// IncDuplicate counts a repeat delivery.
func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// SetUnread records the cached unread count.
func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}

// IncToast counts a toast for category.
func (m *Metrics) IncToast(category string) {
	if m == nil {
		return
	}
	m.toasts.WithLabelValues(category).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
