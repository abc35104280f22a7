package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that don't match a registered route, so
// arbitrary paths can't create new series.
const unmatchedRoute = "unmatched"

// Metrics records the count, latency and size of admin API requests.
//
// Requests are labelled by the matched route pattern, such as
// '/status/peers/:endpoint', rather than the request path.
type Metrics struct {
	RequestsInFlight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	RequestSize      prometheus.Histogram
	ResponseSize     prometheus.Histogram
}

func NewMetrics(subsystem string) *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)
	labels := []string{"route", "method", "status"}

	return &Metrics{
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gossipd",
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being handled",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of handled requests",
			},
			labels,
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gossipd",
				Subsystem: subsystem,
				Name:      "request_latency_seconds",
				Help:      "Request latency",
				Buckets:   prometheus.DefBuckets,
			},
			labels,
		),
		RequestSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gossipd",
				Subsystem: subsystem,
				Name:      "request_size_bytes",
				Help:      "Approximate request size",
				Buckets:   sizeBuckets,
			},
		),
		ResponseSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gossipd",
				Subsystem: subsystem,
				Name:      "response_size_bytes",
				Help:      "Response body size",
				Buckets:   sizeBuckets,
			},
		),
	}
}

func (m *Metrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(
		m.RequestsInFlight,
		m.RequestsTotal,
		m.RequestLatency,
		m.RequestSize,
		m.ResponseSize,
	)
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		labels := prometheus.Labels{
			"route":  route,
			"method": c.Request.Method,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		m.RequestsTotal.With(labels).Inc()
		m.RequestLatency.With(labels).Observe(time.Since(start).Seconds())

		m.RequestSize.Observe(float64(requestSize(c.Request)))
		// Size is -1 if nothing was written.
		if size := c.Writer.Size(); size > 0 {
			m.ResponseSize.Observe(float64(size))
		} else {
			m.ResponseSize.Observe(0)
		}
	}
}

// requestSize returns the approximate size of the request line, headers and
// body.
func requestSize(r *http.Request) int {
	size := len(r.Method) + len(r.Proto) + len(r.Host)
	if r.URL != nil {
		size += len(r.URL.String())
	}
	for name, values := range r.Header {
		size += len(name)
		for _, value := range values {
			size += len(value)
		}
	}
	if r.ContentLength > 0 {
		size += int(r.ContentLength)
	}
	return size
}
