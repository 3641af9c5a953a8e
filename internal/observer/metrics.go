package observer

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetsight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	modelTrainings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_model_trainings_total",
			Help: "Number of model fits, by model kind",
		},
		[]string{"model"},
	)
	anomaliesFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_anomalies_flagged_total",
			Help: "Records flagged anomalous, by endpoint",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(requestCounter)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(modelTrainings)
	prometheus.MustRegister(anomaliesFlagged)
}

// RecordTraining counts one model fit ("isolation_forest", "random_forest").
func RecordTraining(model string) {
	modelTrainings.WithLabelValues(model).Inc()
}

// RecordAnomalies counts records flagged anomalous by one call.
func RecordAnomalies(endpoint string, n int) {
	if n > 0 {
		anomaliesFlagged.WithLabelValues(endpoint).Add(float64(n))
	}
}

// RequestMetrics instruments every request with a counter and a latency
// histogram, labeled by route template rather than raw path so bot ids
// do not explode cardinality.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		requestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
