package cart

import (
	"time"

	"consignpos/internal/clock"
	"consignpos/internal/obs"
)

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(lg *obs.Logger) Option {
	return func(e *Engine) { e.logger = lg }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTaxRate sets the initial rate; rates SetTaxRate would refuse are ignored.
func WithTaxRate(rate float64) Option {
	return func(e *Engine) {
		if ValidTaxRate(rate) {
			e.taxRate = rate
		}
	}
}

// WithReservedBy sets the terminal identifier sent on reserve.
func WithReservedBy(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.reservedBy = id
		}
	}
}

// WithReleaseTimeout bounds each background release call.
func WithReleaseTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.releaseTimeout = d
		}
	}
}
