// Package metrics exposes the scheduler's Prometheus metrics.
//
// Counters:
//   - azan_events_booked_total{prayer}
//   - azan_events_rejected_total{reason}
//   - azan_events_cancelled_total
//   - azan_deliveries_suppressed_total{reason}
//   - azan_deliveries_total{result}
//
// Reconciliation:
//   - azan_reconcile_runs_total{outcome}
//   - azan_reconcile_duration_seconds
//   - azan_reconcile_last_success_timestamp_seconds
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	booked      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	cancelled   prometheus.Counter
	suppressed  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// NewCollector registers the metrics with prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	c := &Collector{
		booked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azan_events_booked_total",
			Help: "Prayer timers registered and recorded",
		}, []string{"prayer"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azan_events_rejected_total",
			Help: "Schedule requests that were refused",
		}, []string{"reason"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "azan_events_cancelled_total",
			Help: "Booked events cancelled",
		}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azan_deliveries_suppressed_total",
			Help: "Timer deliveries that did not start playback",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azan_deliveries_total",
			Help: "Playback attempts by result",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azan_reconcile_runs_total",
			Help: "Reconciliation runs by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "azan_reconcile_duration_seconds",
			Help:    "Reconciliation run duration",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "azan_reconcile_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reconciliation",
		}),
	}

	prometheus.MustRegister(c.booked, c.rejected, c.cancelled, c.suppressed,
		c.deliveries, c.runs, c.runDuration, c.lastSuccess)
	return c
}

func (c *Collector) EventBooked(event string) {
	c.booked.WithLabelValues(event).Inc()
}

func (c *Collector) EventRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) EventsCancelled(n int) {
	if n > 0 {
		c.cancelled.Add(float64(n))
	}
}

func (c *Collector) ReconcileFinished(outcome string, d time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(d.Seconds())
	if outcome != "failed" {
		c.lastSuccess.SetToCurrentTime()
	}
}

func (c *Collector) DeliverySuppressed(reason string) {
	c.suppressed.WithLabelValues(reason).Inc()
}

func (c *Collector) DeliveryPlayed(ok bool) {
	result := "played"
	if !ok {
		result = "failed"
	}
	c.deliveries.WithLabelValues(result).Inc()
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
