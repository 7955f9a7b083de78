package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ReserveTotal *prometheus.CounterVec // result=success|already_sold|reserved_elsewhere|api_error
	ReleaseTotal *prometheus.CounterVec // trigger=expired|removed|duplicate, result=success|fail

	GatewayLatencyMS *prometheus.HistogramVec // op=reserve|release|status

	ExpiredTotal prometheus.Counter
	WarningTotal prometheus.Counter
	CartLines    prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg. A nil reg means
// the process-wide default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ReserveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_reserve_total",
				Help: "Total reserve attempts by result",
			},
			[]string{"result"},
		),
		ReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_release_total",
				Help: "Total release attempts by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		GatewayLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cart_gateway_latency_ms",
				Help:    "Latency of reservation store calls (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_reservation_expired_total",
			Help: "Cart lines removed because their reservation lapsed",
		}),
		WarningTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_expiration_warning_total",
			Help: "Expiration warnings emitted",
		}),
		CartLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_lines",
			Help: "Number of lines currently in the cart",
		}),
	}

	reg.MustRegister(
		m.ReserveTotal,
		m.ReleaseTotal,
		m.GatewayLatencyMS,
		m.ExpiredTotal,
		m.WarningTotal,
		m.CartLines,
	)

	return m
}
