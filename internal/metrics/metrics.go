package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwebhooks_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docwebhooks_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docwebhooks_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwebhooks_dispatch_total",
			Help: "Webhook candidates seen by the trigger, by outcome",
		},
		[]string{"doctype", "event", "outcome"},
	)

	conditionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwebhooks_condition_errors_total",
			Help: "Condition evaluations that failed and were treated as no match",
		},
		[]string{"doctype"},
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwebhooks_sends_total",
			Help: "Outbound webhook requests by final status",
		},
		[]string{"doctype", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docwebhooks_send_duration_seconds",
			Help:    "Outbound webhook request latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"doctype"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docwebhooks_queue_jobs",
			Help: "Dispatch jobs by status",
		},
		[]string{"status"},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docwebhooks_realtime_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	realtimeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docwebhooks_realtime_rooms",
			Help: "Number of rooms with at least one member",
		},
	)

	logsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwebhooks_request_logs_pruned_total",
			Help: "Request log rows removed by retention",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

// RecordDispatch counts a trigger outcome: queued, skipped, duplicate or error.
func RecordDispatch(doctype, event, outcome string) {
	dispatchTotal.WithLabelValues(doctype, event, outcome).Inc()
}

func RecordConditionError(doctype string) {
	conditionErrors.WithLabelValues(doctype).Inc()
}

func RecordSend(doctype, status string, duration time.Duration) {
	sendsTotal.WithLabelValues(doctype, status).Inc()
	sendDuration.WithLabelValues(doctype).Observe(duration.Seconds())
}

func UpdateQueueDepth(counts map[string]int) {
	for status, n := range counts {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func UpdateRealtimeStats(connections, rooms int) {
	realtimeConnections.Set(float64(connections))
	realtimeRooms.Set(float64(rooms))
}

func AddLogsPruned(n int) {
	logsPruned.Add(float64(n))
}

// NormalizePath turns a ServeMux pattern such as "GET /api/webhooks/{id}"
// into a low-cardinality label.
func NormalizePath(pattern string) string {
	if _, path, ok := cutMethod(pattern); ok {
		pattern = path
	}
	if len(pattern) > 100 {
		pattern = pattern[:100]
	}

	normalized := make([]byte, 0, len(pattern))
	inParam := false
	for i := 0; i < len(pattern); i++ {
		switch {
		case pattern[i] == '{':
			inParam = true
			normalized = append(normalized, ':')
		case pattern[i] == '}':
			inParam = false
		case !inParam:
			normalized = append(normalized, pattern[i])
		}
	}
	return string(normalized)
}

func cutMethod(pattern string) (method, path string, ok bool) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ' ' {
			return pattern[:i], pattern[i+1:], true
		}
		if pattern[i] == '/' {
			return "", pattern, false
		}
	}
	return "", pattern, false
}
