package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcrelay",
			Subsystem: "cookie",
			Name:      "exchanges_total",
			Help:      "Cookie exchanges by origin and applied outcome.",
		},
		[]string{"origin", "outcome"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcrelay",
			Subsystem: "cookie",
			Name:      "exchange_duration_seconds",
			Help:      "Time from interception to the applied wire action.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"origin"},
	)
	exchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcrelay",
			Subsystem: "cookie",
			Name:      "exchange_errors_total",
			Help:      "Cookie exchange errors by kind.",
		},
		[]string{"kind"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcrelay",
			Subsystem: "relay",
			Name:      "decode_failures_total",
			Help:      "Sessions dropped on a decode failure.",
		},
		[]string{"state", "direction"},
	)
	sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcrelay",
			Subsystem: "relay",
			Name:      "sessions",
			Help:      "Live relay sessions.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, exchanges, exchangeDuration, exchangeErrors, decodeFailures, sessions)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordExchange(origin, outcome string, duration time.Duration) {
	RegisterMetrics()
	exchanges.WithLabelValues(origin, outcome).Inc()
	exchangeDuration.WithLabelValues(origin).Observe(duration.Seconds())
}

func RecordExchangeError(kind string) {
	RegisterMetrics()
	exchangeErrors.WithLabelValues(kind).Inc()
}

func RecordDecodeFailure(state, direction string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(state, direction).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessions.Dec()
}
