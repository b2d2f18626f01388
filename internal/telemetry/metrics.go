package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_jobs_started_total", Help: "Import jobs that entered processing"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_jobs_completed_total", Help: "Import jobs that finished with zero row errors"})
	JobsCompletedErrs = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_jobs_completed_with_errors_total", Help: "Import jobs that finished with at least one row error"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_jobs_failed_total", Help: "Import jobs that failed before completing"})
	RowsSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_rows_succeeded_total", Help: "Rows committed successfully"})
	RowsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_rows_failed_total", Help: "Rows that failed during commit"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_rate_limit_rejects_total", Help: "Requests rejected by the tenant rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_queue_depth", Help: "Jobs waiting on the dispatch queue"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_jobs_inflight", Help: "Jobs currently being processed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsCompleted,
			JobsCompletedErrs,
			JobsFailed,
			RowsSucceeded,
			RowsFailed,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
