package stubserver

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	detections *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verivox_stub_requests_total",
			Help: "Requests served by the stub backend, by route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verivox_stub_request_duration_seconds",
			Help:    "Stub backend request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verivox_stub_detections_total",
			Help: "Canned verdicts returned, by verdict and role.",
		}, []string{"verdict", "role"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.detections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// c.Path() is the route pattern, so report ids do not become labels.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := statusOf(c, err)
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
