package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "footprints_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "footprints_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	buildingsServed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "footprints_query_buildings",
		Help:    "Buildings rendered per bbox query",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"mode"})

	queryFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "footprints_query_fallbacks_total",
		Help: "Queries answered with the fallback document",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, buildingsServed, queryFallbacks)
}

// instrument records request counts and latency per route
func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
