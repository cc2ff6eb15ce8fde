package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flusherRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "flusher",
		Name:      "runs_total",
		Help:      "Count of flush cycles.",
	}, []string{"status"})
	flusherRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dagpulse",
		Subsystem: "flusher",
		Name:      "run_duration_seconds",
		Help:      "Duration of one flush cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
	flusherFlushedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "flusher",
		Name:      "flushed_rows_total",
		Help:      "Count of rows flushed per table.",
	}, []string{"table"})
	flusherPrunesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dagpulse",
		Subsystem: "flusher",
		Name:      "prunes_total",
		Help:      "Count of retention prune runs.",
	}, []string{"status"})
)

// Flusher tracks metrics for the persistence writer.
type Flusher struct{}

// NewFlusher constructs a Flusher metrics collector.
func NewFlusher() *Flusher {
	return &Flusher{}
}

// ObserveRun records outcome and duration of one flush cycle.
func (m Flusher) ObserveRun(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	flusherRunsTotal.WithLabelValues(status).Inc()
	flusherRunDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// ObserveFlushedRows counts rows flushed into one table.
func (m Flusher) ObserveFlushedRows(table string, rows int) {
	flusherFlushedRows.WithLabelValues(table).Add(float64(rows))
}

// ObservePrune records the outcome of a retention prune run.
func (m Flusher) ObservePrune(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	flusherPrunesTotal.WithLabelValues(status).Inc()
}
