package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(pollRunsTotal, pollDuration) }

var (
	pollRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_runs_total",
			Help: "Scheduled notification polls, labeled by kind and result.",
		},
		[]string{"kind", "result"}, // 'completed', 'failed', 'skipped'
	)

	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Duration of notification polls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)
)

func IncPollRun(kind, result string) {
	pollRunsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func ObservePoll(kind string, d time.Duration) {
	pollDuration.WithLabelValues(norm(kind)).Observe(d.Seconds())
}
