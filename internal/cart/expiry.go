package cart

import (
	"context"
	"fmt"
	"time"

	"consignpos/pkg/leasetime"
)

// Start runs the expiration loop until Stop is called or ctx ends. It ticks
// once immediately and then every TickInterval.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
			// previous loop ended with its context
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		e.run(ctx)
	}()
	return nil
}

// Stop ends the loop and waits for it and for every background release.
// Safe to call more than once and without Start. Called from a listener while
// the loop is delivering a tick's events, Stop cannot wait for the loop it is
// running on; it cancels it and the loop exits once delivery returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
		if e.loopEmitting.Load() == 0 {
			<-done
		}
	}
	e.inflight.Wait()
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Engine) run(ctx context.Context) {
	t := time.NewTicker(TickInterval)
	defer t.Stop()

	e.loopTick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.loopTick()
		}
	}
}

// loopTick is Tick as run by the loop. Releases are started before delivery,
// so a Stop issued from a listener still waits for them.
func (e *Engine) loopTick() {
	events := e.evaluate()
	e.loopEmitting.Add(1)
	defer e.loopEmitting.Add(-1)
	e.emit(events...)
}

// Tick evaluates every locked line against a single instant. Lapsed lines are
// removed and their release is fired without waiting; lines entering the
// warning window emit one warning per reservation.
func (e *Engine) Tick() {
	e.emit(e.evaluate()...)
}

// evaluate applies one tick to the cart, starts the releases of lapsed lines
// and returns the events to deliver.
func (e *Engine) evaluate() []Event {
	now := e.clock.Now()

	var (
		warnings []Event
		expired  []Item
	)

	e.mu.Lock()
	kept := e.lines[:0]
	for _, l := range e.lines {
		if !l.Locked() {
			l.Remaining = 0
			kept = append(kept, l)
			continue
		}

		id := l.Item.ID
		remaining := leasetime.Remaining(l.Reservation.ExpiresAt, now)
		l.Remaining = remaining

		if remaining == 0 {
			l.Reservation.Active = false
			delete(e.warned, id)
			expired = append(expired, l.Item)
			continue
		}

		if leasetime.IsExpiringSoon(remaining, e.threshold) {
			if _, seen := e.warned[id]; !seen {
				e.warned[id] = struct{}{}
				warnings = append(warnings, Event{
					Kind:      EventExpirationWarning,
					At:        now,
					ItemID:    id,
					Item:      l.Item,
					Remaining: remaining,
					Message:   fmt.Sprintf("reservation for %s expires in %s", displayName(l.Item), leasetime.Format(remaining)),
				})
			}
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(e.lines); i++ {
		e.lines[i] = nil
	}
	e.lines = kept
	totals, n := e.totalsLocked(), len(e.lines)
	e.mu.Unlock()

	events := warnings
	for _, item := range expired {
		e.releaseAsync(item.ID, "expired")
		events = append(events, Event{Kind: EventItemRemoved, At: now, ItemID: item.ID, Item: item, Reason: RemovedExpiry})
		e.logger.Info(map[string]interface{}{"op": "cart_expire", "item": item.ID})
	}
	if len(expired) > 0 {
		events = append(events, Event{Kind: EventTotalsChanged, At: now, Totals: totals})
		e.setLinesGauge(n)
	}

	if e.metrics != nil {
		e.metrics.WarningTotal.Add(float64(len(warnings)))
		e.metrics.ExpiredTotal.Add(float64(len(expired)))
	}
	for _, w := range warnings {
		e.logger.Info(map[string]interface{}{"op": "cart_warning", "item": w.ItemID, "remaining_ms": w.Remaining.Milliseconds()})
	}
	return events
}
