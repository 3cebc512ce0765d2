package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records inbound request latency.
type HTTPMetrics struct {
	duration *prometheus.HistogramVec
}

var httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewHTTPMetrics registers the HTTP histogram on registerer.
func NewHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "creditgate_http_request_duration_seconds",
		Help:        "HTTP request latency by route and status.",
		Buckets:     httpBuckets,
		ConstLabels: constLabels(cfg),
	}, []string{"method", "route", "status"})
	registerer.MustRegister(duration)
	return &HTTPMetrics{duration: duration}
}

// GinMiddleware observes request latency once the handler chain completes.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.duration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
