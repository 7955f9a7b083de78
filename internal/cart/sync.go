package cart

import (
	"context"
	"errors"
	"time"

	"consignpos/pkg/leasetime"
)

var ErrStatusUnsupported = errors.New("gateway cannot report reservation status")

// SyncReservation reconciles one locked line with the store. A lease the
// store extended moves the line's expiry forward; once it is back above the
// warning threshold the item may be warned again. A lease the store no
// longer holds for this terminal, or whose status cannot be read, removes the
// line from the cart.
func (e *Engine) SyncReservation(ctx context.Context, itemID string) error {
	sc, ok := e.gw.(StatusChecker)
	if !ok {
		return ErrStatusUnsupported
	}

	e.mu.Lock()
	i := e.indexLocked(itemID)
	if i < 0 {
		e.mu.Unlock()
		return ErrNotFound
	}
	if !e.lines[i].Locked() {
		e.mu.Unlock()
		return ErrNotLocked
	}
	reservationID := e.lines[i].Reservation.ReservationID
	e.mu.Unlock()

	start := time.Now()
	st := sc.Status(ctx, itemID)
	e.observeLatency("status", start)
	now := e.clock.Now()

	e.mu.Lock()
	i = e.indexLocked(itemID)
	if i < 0 || !e.lines[i].Locked() || e.lines[i].Reservation.ReservationID != reservationID {
		// removed, expired or re-reserved while the status call was in flight
		e.mu.Unlock()
		return ErrNotFound
	}
	line := e.lines[i]

	if !st.IsReserved || (st.ReservedBy != "" && st.ReservedBy != e.reservedBy) {
		// Without the lease the item may be sold elsewhere, so it leaves the
		// cart. Nothing is released: the store keys locks by item and the
		// current holder may be another register.
		line, _ = e.takeLocked(itemID)
		line.Reservation.Active = false
		item := line.Item
		totals, n := e.totalsLocked(), len(e.lines)
		e.mu.Unlock()

		e.setLinesGauge(n)
		e.logger.Warn(map[string]interface{}{"op": "cart_sync", "item": itemID, "lost": true, "reserved_by": st.ReservedBy})
		e.emit(
			Event{
				Kind:    EventReservationLost,
				At:      now,
				ItemID:  itemID,
				Item:    item,
				Message: displayName(item) + " is no longer reserved for this register and was removed from the cart",
			},
			Event{Kind: EventItemRemoved, At: now, ItemID: itemID, Item: item, Reason: RemovedLost},
			Event{Kind: EventTotalsChanged, At: now, Totals: totals},
		)
		return nil
	}

	expiresAt := st.ExpiresAt
	if expiresAt.IsZero() && st.RemainingTime > 0 {
		expiresAt = now.Add(st.RemainingTime)
	}
	if !expiresAt.IsZero() {
		line.Reservation.ExpiresAt = expiresAt
	}
	line.Remaining = leasetime.Remaining(line.Reservation.ExpiresAt, now)
	if line.Remaining > e.threshold {
		delete(e.warned, itemID)
	}
	remaining := line.Remaining
	e.mu.Unlock()

	e.logger.Info(map[string]interface{}{"op": "cart_sync", "item": itemID, "remaining_ms": remaining.Milliseconds()})
	return nil
}
