package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingesterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "events_total",
		Help:      "Count of node events processed.",
	}, []string{"type", "status"})
	ingesterEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "event_duration_seconds",
		Help:      "Duration of applying one node event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type", "status"})
	ingesterReorgsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "reorgs_total",
		Help:      "Count of chain reorganizations applied.",
	})
	ingesterOrphanEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "orphan_edges",
		Help:      "Parent references still unresolved past the reorder tolerance.",
	})
	ingesterStoreSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "store_size",
		Help:      "In-memory record counts by kind.",
	}, []string{"kind"})
	ingesterEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "ingester",
		Name:      "evicted_total",
		Help:      "Count of records evicted past the window horizon.",
	}, []string{"kind"})
)

// Ingester tracks metrics for the ingestion pipeline.
type Ingester struct{}

// NewIngester constructs an Ingester metrics collector.
func NewIngester() *Ingester {
	return &Ingester{}
}

// ObserveEvent records outcome and duration of one applied event.
func (m Ingester) ObserveEvent(eventType string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ingesterEventsTotal.WithLabelValues(eventType, status).Inc()
	ingesterEventDuration.WithLabelValues(eventType, status).Observe(time.Since(started).Seconds())
}

// ObserveReorg counts an applied chain reorganization.
func (m Ingester) ObserveReorg() {
	ingesterReorgsTotal.Inc()
}

// SetOrphanEdges publishes the current unresolved parent-edge count.
func (m Ingester) SetOrphanEdges(n int) {
	ingesterOrphanEdges.Set(float64(n))
}

// SetStoreSizes publishes in-memory record counts.
func (m Ingester) SetStoreSizes(blocks, transactions int) {
	ingesterStoreSize.WithLabelValues("blocks").Set(float64(blocks))
	ingesterStoreSize.WithLabelValues("transactions").Set(float64(transactions))
}

// ObserveEviction counts records removed by window eviction.
func (m Ingester) ObserveEviction(blocks, transactions int) {
	ingesterEvictedTotal.WithLabelValues("blocks").Add(float64(blocks))
	ingesterEvictedTotal.WithLabelValues("transactions").Add(float64(transactions))
}
