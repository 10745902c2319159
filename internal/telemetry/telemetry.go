// Package telemetry exposes pool and connection health as Prometheus
// metrics: GaugeVec/HistogramVec/CounterVec series labeled by pool name,
// covering connection occupancy, queue time, authentication method, and
// type-registry refresh activity.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric this module emits. New returns an
// independent registry each call, so tests and multiple in-process pools
// don't collide on metric registration.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec
	poolHealth         *prometheus.GaugeVec

	queueTime     *prometheus.HistogramVec
	queryDuration *prometheus.HistogramVec

	authTotal          *prometheus.CounterVec
	typeRefreshTotal   *prometheus.CounterVec
	healthCheckResults *prometheus.CounterVec
}

// New creates and registers every metric on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgo_connections_active", Help: "Checked-out connections per pool"},
			[]string{"pool"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgo_connections_idle", Help: "Idle connections per pool"},
			[]string{"pool"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgo_connections_total", Help: "Total connections (idle+active) per pool"},
			[]string{"pool"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgo_connections_waiting", Help: "Waiters queued for a connection per pool"},
			[]string{"pool"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgo_pool_exhausted_total", Help: "Times a checkout had to wait because the pool was at max size"},
			[]string{"pool"},
		),
		poolHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pgo_pool_health", Help: "Pool health from periodic probing (1=healthy, 0=unhealthy)"},
			[]string{"pool"},
		),
		queueTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgo_checkout_queue_seconds",
				Help:    "Time between a checkout request enqueueing and being handed a connection",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"pool"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgo_query_duration_seconds",
				Help:    "Duration of one Query call, checkout to result",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"pool"},
		),
		authTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgo_auth_total", Help: "Completed handshakes by authentication method"},
			[]string{"pool", "method"},
		),
		typeRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgo_type_refresh_total", Help: "Type registry refreshes (out-of-band pg_type lookups)"},
			[]string{"pool"},
		),
		healthCheckResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pgo_health_check_total", Help: "Health probe results by outcome"},
			[]string{"pool", "status"},
		),
	}

	reg.MustRegister(
		c.connectionsActive, c.connectionsIdle, c.connectionsTotal, c.connectionsWaiting,
		c.poolExhausted, c.poolHealth, c.queueTime, c.queryDuration,
		c.authTotal, c.typeRefreshTotal, c.healthCheckResults,
	)
	return c
}

// UpdatePoolStats sets the point-in-time occupancy gauges for pool.
func (c *Collector) UpdatePoolStats(pool string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(pool).Set(float64(active))
	c.connectionsIdle.WithLabelValues(pool).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(pool).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(pool).Set(float64(waiting))
}

// SetQueueDepth sets only the waiting-caller gauge for pool, independent of
// UpdatePoolStats's full snapshot. Callers that observe queue depth from
// inside a lock that guards the rest of a pool's counters (pgpool's
// notifyQueueDepthLocked) can report it without acquiring that lock again.
func (c *Collector) SetQueueDepth(pool string, depth int) {
	c.connectionsWaiting.WithLabelValues(pool).Set(float64(depth))
}

// PoolExhausted increments pool's exhaustion counter.
func (c *Collector) PoolExhausted(pool string) { c.poolExhausted.WithLabelValues(pool).Inc() }

// SetPoolHealth records the outcome of the most recent liveness probe.
func (c *Collector) SetPoolHealth(pool string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.poolHealth.WithLabelValues(pool).Set(v)
}

// QueueTime observes the checkout-to-handoff delay: how long a caller
// waited in the pool's queue before getting a connection.
func (c *Collector) QueueTime(pool string, d time.Duration) {
	c.queueTime.WithLabelValues(pool).Observe(d.Seconds())
}

// QueryDuration observes the time a Query call spent running, including
// its checkout wait.
func (c *Collector) QueryDuration(pool string, d time.Duration) {
	c.queryDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// AuthCompleted increments the counter for the authentication method a
// handshake just completed with (e.g. "cleartext", "md5", "scram-sha-256").
func (c *Collector) AuthCompleted(pool, method string) {
	c.authTotal.WithLabelValues(pool, method).Inc()
}

// TypeRefresh increments pool's type-registry refresh counter.
func (c *Collector) TypeRefresh(pool string) { c.typeRefreshTotal.WithLabelValues(pool).Inc() }

// HealthCheckResult records one health probe's outcome.
func (c *Collector) HealthCheckResult(pool string, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckResults.WithLabelValues(pool, status).Inc()
}

// RemovePool clears every metric series for pool, e.g. when a pool is torn
// down and its name might later be reused for an unrelated backend.
func (c *Collector) RemovePool(pool string) {
	c.connectionsActive.DeleteLabelValues(pool)
	c.connectionsIdle.DeleteLabelValues(pool)
	c.connectionsTotal.DeleteLabelValues(pool)
	c.connectionsWaiting.DeleteLabelValues(pool)
	c.poolExhausted.DeleteLabelValues(pool)
	c.poolHealth.DeleteLabelValues(pool)
	c.queueTime.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.queryDuration.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.authTotal.DeletePartialMatch(prometheus.Labels{"pool": pool})
	c.typeRefreshTotal.DeleteLabelValues(pool)
	c.healthCheckResults.DeletePartialMatch(prometheus.Labels{"pool": pool})
}
