package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector collects and exposes export metrics.
type Collector struct {
	itemsTotal *prometheus.CounterVec
	queueDepth prometheus.Gauge
	duration   prometheus.Histogram
}

// New creates a metrics collector registered on reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_items_total",
				Help: "Total number of export jobs finished",
			},
			[]string{"status"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "export_queue_depth",
				Help: "Pending export jobs plus any job in flight",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "export_item_duration_seconds",
				Help:    "Time taken to export one item",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(c.itemsTotal)
	reg.MustRegister(c.queueDepth)
	reg.MustRegister(c.duration)

	return c
}

// IncExported increments the exported item counter.
func (c *Collector) IncExported() {
	if c == nil {
		return
	}
	c.itemsTotal.WithLabelValues("done").Inc()
}

// IncFailed increments the failed item counter.
func (c *Collector) IncFailed() {
	if c == nil {
		return
	}
	c.itemsTotal.WithLabelValues("failed").Inc()
}

// SetQueueDepth sets the current queue depth gauge.
func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// ObserveDuration observes one job's export duration.
func (c *Collector) ObserveDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.duration.Observe(d.Seconds())
}
