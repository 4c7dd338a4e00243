// Package metrics exposes Prometheus metrics and the /healthz endpoint for
// the position monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the position monitor.
type Metrics struct {
	TicksTotal     *prometheus.CounterVec // labels: pair
	MalformedTicks *prometheus.CounterVec // labels: key
	FeedReconnects *prometheus.CounterVec // labels: key
	FeedConnected  prometheus.Gauge

	OpenPositions   prometheus.Gauge
	ClosesTotal     *prometheus.CounterVec // labels: reason
	SuppressedSyncs prometheus.Counter

	HistoryPersistErrors prometheus.Counter
	NotifyFailures       *prometheus.CounterVec // labels: kind

	WSClients prometheus.Gauge
	WSDrops   prometheus.Counter

	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
	RedisBuffered     prometheus.Counter
	RedisDropped      prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posmon_ticks_total",
			Help: "Ticks applied to the ledger",
		}, []string{"pair"}),
		MalformedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posmon_feed_malformed_total",
			Help: "Upstream trade messages dropped as malformed",
		}, []string{"key"}),
		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posmon_feed_reconnects_total",
			Help: "Upstream reconnection attempts",
		}, []string{"key"}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posmon_feed_connections",
			Help: "Open upstream trade-stream connections",
		}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posmon_open_positions",
			Help: "Positions currently in the ledger",
		}),
		ClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posmon_closes_total",
			Help: "Threshold closes by reason",
		}, []string{"reason"}),
		SuppressedSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_sync_suppressed_total",
			Help: "Sync entries skipped because they closed recently",
		}),

		HistoryPersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_history_persist_errors_total",
			Help: "Failed durable history writes",
		}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posmon_notify_failures_total",
			Help: "Alerts that could not be delivered",
		}, []string{"kind"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posmon_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_ws_drops_total",
			Help: "Events dropped for slow WebSocket clients",
		}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posmon_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_redis_buffered_events_total",
			Help: "Events buffered locally while Redis was unavailable",
		}),
		RedisDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posmon_redis_dropped_events_total",
			Help: "Events dropped by the Redis publisher queue or buffer",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.MalformedTicks,
		m.FeedReconnects,
		m.FeedConnected,
		m.OpenPositions,
		m.ClosesTotal,
		m.SuppressedSyncs,
		m.HistoryPersistErrors,
		m.NotifyFailures,
		m.WSClients,
		m.WSDrops,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBuffered,
		m.RedisDropped,
	)
	return m
}
