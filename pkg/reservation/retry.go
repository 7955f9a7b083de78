package reservation

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// ReserveWithRetry repeats Reserve while the outcome is api_error. Conflicts
// are answers from the store and are returned on the first attempt.
func (c *Client) ReserveWithRetry(ctx context.Context, itemID, reservedBy string, opt RetryOptions) Result {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 3
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 50 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 1 * time.Second
	}
	if opt.JitterFrac == 0 {
		opt.JitterFrac = 0.2
	}

	var last Result
	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		last = c.Reserve(ctx, itemID, reservedBy)
		if last.Success || last.Conflict != ConflictAPIError {
			return last
		}
		if attempt == opt.MaxRetries {
			break
		}

		sleep := time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		c.rngMu.Lock()
		sleep = addJitter(c.rng, sleep, opt.JitterFrac)
		c.rngMu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{ErrorMessage: ctx.Err().Error(), Conflict: ConflictAPIError}
		case <-timer.C:
		}
	}
	return last
}

func addJitter(r *rand.Rand, d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (r.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
