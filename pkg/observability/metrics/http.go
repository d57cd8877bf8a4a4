package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	inFlight prometheus.Gauge
}

func newHTTPMetrics(namespace string) *httpMetrics {
	return &httpMetrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}
}

// RecordHTTP records one finished request.
func (r *Registry) RecordHTTP(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	r.http.duration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
	r.http.total.WithLabelValues(method, path, statusStr).Inc()
}

// Middleware records request metrics labelled by the matched route template,
// so /jobs/:id does not explode into one series per job.
func (r *Registry) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.http.inFlight.Inc()
		defer r.http.inFlight.Dec()

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.RecordHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
