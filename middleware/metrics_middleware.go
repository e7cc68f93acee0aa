package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remoteobj/message"
)

const metricsNamespace = "remoteobj"

// Collector is a prometheus.Collector for dispatched calls.
type Collector struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector. Register it with a
// prometheus.Registerer and pass it to MetricsMiddleware.
func NewMetricsCollector() *Collector {
	return &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_total",
				Help:      "The number of dispatched calls by method and outcome.",
			}, []string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "call_duration_seconds",
				Help:      "The time spent dispatching a call.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"method"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.calls.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.calls.Collect(ch)
	c.duration.Collect(ch)
}

// MetricsMiddleware records each call in c. The outcome label is "ok" or the
// error kind of the response.
func MetricsMiddleware(c *Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.InvocationRequest) *message.InvocationResponse {
			start := time.Now()
			resp := next(ctx, req)
			c.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			outcome := "ok"
			if resp != nil && resp.Failed() {
				outcome = resp.Error.Kind
			}
			c.calls.WithLabelValues(req.Method, outcome).Inc()
			return resp
		}
	}
}
