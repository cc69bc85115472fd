package fetch

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_fetch_requests_total",
			Help: "Backend fetches by media kind and result",
		},
		[]string{"kind", "result"},
	)
	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_fetch_duration_seconds",
			Help:    "Backend fetch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	received = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_fetch_bytes_total",
			Help: "Bytes received from the backend",
		},
		[]string{"kind"},
	)
)

// RegisterMetrics 注册后端请求指标
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(requests, duration, received)
}

func observe(kind string, start time.Time, n int, err error) {
	duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	received.WithLabelValues(kind).Add(float64(n))
	requests.WithLabelValues(kind, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return strconv.Itoa(se.Status)
	default:
		return "error"
	}
}
