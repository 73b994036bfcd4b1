package relay

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapsight"

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
	imageBytes      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Relay HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		analyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyze_duration_seconds",
			Help:      "Time spent waiting for the model.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		imageBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_bytes",
			Help:      "Decoded size of analyzed images.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.analyzeDuration, m.imageBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(method, route string, status int) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
