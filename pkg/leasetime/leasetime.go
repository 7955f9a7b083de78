// Package leasetime holds the pure arithmetic behind reservation countdowns.
// Nothing here reads the wall clock; callers pass the instant they evaluate at.
package leasetime

import (
	"fmt"
	"time"
)

// DefaultWarningThreshold is how close to expiry a lease must be before the
// cart surfaces a warning.
const DefaultWarningThreshold = 2 * time.Minute

// Remaining returns expiresAt-now, floored at zero. A zero expiresAt means the
// expiry is unknown and is treated as already lapsed.
func Remaining(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingMS is Remaining in whole milliseconds.
func RemainingMS(expiresAt, now time.Time) int64 {
	return Remaining(expiresAt, now).Milliseconds()
}

// Format renders d as M:SS. Minutes are not padded, seconds are floored.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// IsExpiringSoon reports 0 < remaining <= threshold. Zero remaining is expired,
// not expiring.
func IsExpiringSoon(remaining, threshold time.Duration) bool {
	return remaining > 0 && remaining <= threshold
}
