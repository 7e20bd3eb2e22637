package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "httpgate"

type Metrics struct {
	requests        *prometheus.CounterVec
	connections     prometheus.Gauge
	headerResets    *prometheus.CounterVec
	accessLogDrops  prometheus.Counter
	requestsPerConn prometheus.Histogram
}

// New registers the collectors with reg. A nil reg leaves them
// unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of requests answered, by status code",
			},
			[]string{"code"},
		),
		connections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "open_connections",
				Help:      "Number of client connections currently open",
			},
		),
		headerResets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "header",
				Name:      "resets_total",
				Help:      "Header collection resets between keep-alive requests",
			},
			[]string{"result"},
		),
		accessLogDrops: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accesslog",
				Name:      "dropped_total",
				Help:      "Access log records dropped because the queue was full",
			},
		),
		requestsPerConn: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_per_connection",
				Help:      "Requests served on a connection before it closed",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
	}
}

func (m *Metrics) ObserveRequest(status int) {
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed(served int) {
	m.connections.Dec()
	m.requestsPerConn.Observe(float64(served))
}

// ObserveHeaderReset records whether a keep-alive reset reused the
// collection or had to allocate a fresh one.
func (m *Metrics) ObserveHeaderReset(reused bool) {
	result := "fresh"
	if reused {
		result = "reused"
	}
	m.headerResets.WithLabelValues(result).Inc()
}

func (m *Metrics) AccessLogDropped() {
	m.accessLogDrops.Inc()
}
