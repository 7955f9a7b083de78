// Package cart owns the lines of an in-progress sale and the temporal locks
// that keep unique consigned items from being sold twice.
//
// All cart state lives inside Engine and changes only through its methods and
// the expiration tick. Hosts observe changes by subscribing a Listener.
package cart

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"consignpos/internal/clock"
	"consignpos/internal/obs"
	"consignpos/pkg/leasetime"
	"consignpos/pkg/reservation"
)

const (
	// TickInterval is the cadence of the expiration loop.
	TickInterval = time.Second

	defaultReleaseTimeout = 5 * time.Second
)

// Gateway is the subset of the reservation store the engine drives.
// *reservation.Client satisfies it.
type Gateway interface {
	Reserve(ctx context.Context, itemID, reservedBy string) reservation.Result
	Release(ctx context.Context, itemID string) error
}

// StatusChecker is implemented by gateways that can report store-side state.
type StatusChecker interface {
	Status(ctx context.Context, itemID string) reservation.Status
}

type Engine struct {
	gw             Gateway
	clock          clock.Clock
	logger         *obs.Logger
	metrics        *obs.Metrics
	reservedBy     string
	releaseTimeout time.Duration
	threshold      time.Duration

	mu      sync.Mutex
	lines   []*Line
	warned  map[string]struct{}
	taxRate float64

	lmu          sync.Mutex
	listeners    []listenerEntry
	nextListener int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	loopEmitting atomic.Int32 // loop goroutines currently delivering events

	inflight sync.WaitGroup
}

func New(gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		gw:             gw,
		clock:          clock.NewSystem(),
		reservedBy:     reservation.DefaultReservedBy,
		releaseTimeout: defaultReleaseTimeout,
		threshold:      leasetime.DefaultWarningThreshold,
		warned:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers fn for every subsequent event. The returned func
// removes it again.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	e.lmu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	e.lmu.Unlock()

	return func() {
		e.lmu.Lock()
		defer e.lmu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.lmu.Lock()
	ls := append([]listenerEntry(nil), e.listeners...)
	e.lmu.Unlock()

	for _, ev := range events {
		for _, l := range ls {
			l.fn(ev)
		}
	}
}

// AddItem puts item in the cart without a reservation. A second line for the
// same id is refused with ErrDuplicateItem.
func (e *Engine) AddItem(item Item) error {
	item = normalize(item)
	if item.ID == "" {
		return ErrItemIDRequired
	}
	now := e.clock.Now()

	e.mu.Lock()
	if e.indexLocked(item.ID) >= 0 {
		e.mu.Unlock()
		e.rejectDuplicate(item, now)
		return ErrDuplicateItem
	}
	e.lines = append(e.lines, &Line{Item: item})
	totals, n := e.totalsLocked(), len(e.lines)
	e.mu.Unlock()

	e.setLinesGauge(n)
	e.logger.Info(map[string]interface{}{"op": "cart_add", "item": item.ID, "locked": false})
	e.emit(
		Event{Kind: EventItemAdded, At: now, ItemID: item.ID, Item: item},
		Event{Kind: EventTotalsChanged, At: now, Totals: totals},
	)
	return nil
}

// ReserveAndAdd locks item in the store for this terminal and, on success,
// adds it to the cart. A conflict is returned as the tagged result with a nil
// error and leaves the cart unchanged.
func (e *Engine) ReserveAndAdd(ctx context.Context, item Item) (reservation.Result, error) {
	item = normalize(item)
	if item.ID == "" {
		return reservation.Result{}, ErrItemIDRequired
	}
	if e.Contains(item.ID) {
		e.rejectDuplicate(item, e.clock.Now())
		return reservation.Result{}, ErrDuplicateItem
	}

	start := time.Now()
	res := e.gw.Reserve(ctx, item.ID, e.reservedBy)
	e.observeLatency("reserve", start)
	e.incReserve(res)

	now := e.clock.Now()
	if !res.Success {
		if res.Conflict == reservation.ConflictAlreadySold {
			item.Status = ItemSold
		}
		e.logger.Warn(map[string]interface{}{
			"op":         "cart_reserve",
			"item":       item.ID,
			"conflict":   string(res.Conflict),
			"error":      res.ErrorMessage,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		e.emit(Event{
			Kind:     EventReserveConflict,
			At:       now,
			ItemID:   item.ID,
			Item:     item,
			Conflict: res.Conflict,
			Message:  conflictText(item, res.Conflict),
		})
		return res, nil
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(res.RemainingTime)
	}
	item.Status = ItemReserved
	line := &Line{
		Item: item,
		Reservation: &Reservation{
			ItemID:        item.ID,
			ReservationID: res.ReservationID,
			Active:        true,
			ReservedAt:    now,
			ExpiresAt:     expiresAt,
		},
		Remaining: leasetime.Remaining(expiresAt, now),
	}

	e.mu.Lock()
	if i := e.indexLocked(item.ID); i >= 0 {
		// Added concurrently while the reserve call was in flight. The store
		// keys locks by item, so only release if the existing line holds none.
		existingLocked := e.lines[i].Locked()
		e.mu.Unlock()
		if !existingLocked {
			e.releaseAsync(item.ID, "duplicate")
		}
		e.rejectDuplicate(item, now)
		return res, ErrDuplicateItem
	}
	e.lines = append(e.lines, line)
	delete(e.warned, item.ID)
	totals, n := e.totalsLocked(), len(e.lines)
	e.mu.Unlock()

	e.setLinesGauge(n)
	e.logger.Info(map[string]interface{}{
		"op":             "cart_reserve",
		"item":           item.ID,
		"reservation_id": res.ReservationID,
		"expires_at":     expiresAt.Format(time.RFC3339),
		"remaining_ms":   line.Remaining.Milliseconds(),
		"latency_ms":     time.Since(start).Milliseconds(),
	})
	e.emit(
		Event{Kind: EventItemAdded, At: now, ItemID: item.ID, Item: item},
		Event{Kind: EventTotalsChanged, At: now, Totals: totals},
	)
	return res, nil
}

// RemoveItem drops the line for itemID and releases its reservation. The
// release outcome never blocks the removal, and EventItemRemoved is emitted
// even when the id was not in the cart.
func (e *Engine) RemoveItem(ctx context.Context, itemID string) {
	now := e.clock.Now()

	e.mu.Lock()
	line, ok := e.takeLocked(itemID)
	totals, n := e.totalsLocked(), len(e.lines)
	e.mu.Unlock()

	var item Item
	if ok {
		item = line.Item
		e.setLinesGauge(n)
		if line.Locked() {
			_ = e.release(ctx, itemID, "removed")
		}
	}

	e.logger.Info(map[string]interface{}{"op": "cart_remove", "item": itemID, "found": ok})
	events := []Event{{Kind: EventItemRemoved, At: now, ItemID: itemID, Item: item, Reason: RemovedByUser}}
	if ok {
		events = append(events, Event{Kind: EventTotalsChanged, At: now, Totals: totals})
	}
	e.emit(events...)
}

// Clear empties the cart after a completed sale. Reservations are not
// released: the sale itself settles them in the store.
func (e *Engine) Clear() {
	now := e.clock.Now()

	e.mu.Lock()
	for i := range e.lines {
		e.lines[i] = nil
	}
	n := len(e.lines)
	e.lines = e.lines[:0]
	e.warned = make(map[string]struct{})
	totals := e.totalsLocked()
	e.mu.Unlock()

	e.setLinesGauge(0)
	e.logger.Info(map[string]interface{}{"op": "cart_clear", "lines": n})
	e.emit(
		Event{Kind: EventCartCleared, At: now},
		Event{Kind: EventTotalsChanged, At: now, Totals: totals},
	)
}

// Lines returns a copy of the cart in insertion order.
func (e *Engine) Lines() []Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Line, 0, len(e.lines))
	for _, l := range e.lines {
		out = append(out, l.clone())
	}
	return out
}

// Line returns a copy of the line for itemID.
func (e *Engine) Line(itemID string) (Line, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(itemID)
	if i < 0 {
		return Line{}, false
	}
	return e.lines[i].clone(), true
}

func (e *Engine) Contains(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(itemID) >= 0
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lines)
}

func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalsLocked()
}

func (e *Engine) TaxRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.taxRate
}

func (e *Engine) SetTaxRate(rate float64) error {
	if !ValidTaxRate(rate) {
		return ErrInvalidTaxRate
	}
	e.mu.Lock()
	e.taxRate = rate
	totals := e.totalsLocked()
	e.mu.Unlock()

	e.emit(Event{Kind: EventTotalsChanged, At: e.clock.Now(), Totals: totals})
	return nil
}

// ValidTaxRate reports whether rate is a finite, non-negative fraction.
func ValidTaxRate(rate float64) bool {
	return rate >= 0 && !math.IsNaN(rate) && !math.IsInf(rate, 0)
}

// ---- internals ----

func (e *Engine) indexLocked(itemID string) int {
	for i, l := range e.lines {
		if l.Item.ID == itemID {
			return i
		}
	}
	return -1
}

func (e *Engine) takeLocked(itemID string) (*Line, bool) {
	i := e.indexLocked(itemID)
	if i < 0 {
		return nil, false
	}
	line := e.lines[i]
	copy(e.lines[i:], e.lines[i+1:])
	e.lines[len(e.lines)-1] = nil
	e.lines = e.lines[:len(e.lines)-1]
	delete(e.warned, itemID)
	return line, true
}

// totalsLocked rounds tax half away from zero to the cent.
func (e *Engine) totalsLocked() Totals {
	var sub int64
	for _, l := range e.lines {
		sub += l.Item.PriceCents * int64(l.Item.Quantity)
	}
	tax := int64(math.Round(float64(sub) * e.taxRate))
	return Totals{SubtotalCents: sub, TaxCents: tax, TotalCents: sub + tax}
}

func (e *Engine) rejectDuplicate(item Item, now time.Time) {
	e.logger.Warn(map[string]interface{}{"op": "cart_add", "item": item.ID, "error": ErrDuplicateItem.Error()})
	e.emit(Event{
		Kind:    EventDuplicateRejected,
		At:      now,
		ItemID:  item.ID,
		Item:    item,
		Message: fmt.Sprintf("%s is already in the cart", displayName(item)),
	})
}

// release performs one store release and records the outcome. Callers decide
// whether the error matters; every current caller ignores it.
func (e *Engine) release(ctx context.Context, itemID, trigger string) error {
	start := time.Now()
	err := e.gw.Release(ctx, itemID)
	e.observeLatency("release", start)

	result := "success"
	fields := map[string]interface{}{
		"op":         "cart_release",
		"item":       itemID,
		"trigger":    trigger,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		result = "fail"
		fields["error"] = err.Error()
		e.logger.Error(fields)
	} else {
		e.logger.Info(fields)
	}
	if e.metrics != nil {
		e.metrics.ReleaseTotal.WithLabelValues(trigger, result).Inc()
	}
	return err
}

// releaseAsync fires a release without waiting for it. Stop waits for every
// release started this way.
func (e *Engine) releaseAsync(itemID, trigger string) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.releaseTimeout)
		defer cancel()
		_ = e.release(ctx, itemID, trigger)
	}()
}

func (e *Engine) observeLatency(op string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.GatewayLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func (e *Engine) incReserve(res reservation.Result) {
	if e.metrics == nil {
		return
	}
	result := "success"
	if !res.Success {
		result = string(res.Conflict)
		if result == "" {
			result = string(reservation.ConflictAPIError)
		}
	}
	e.metrics.ReserveTotal.WithLabelValues(result).Inc()
}

func (e *Engine) setLinesGauge(n int) {
	if e.metrics == nil {
		return
	}
	e.metrics.CartLines.Set(float64(n))
}

func normalize(item Item) Item {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	if item.Status == "" {
		item.Status = ItemAvailable
	}
	return item
}

func displayName(item Item) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ID
}

func conflictText(item Item, c reservation.ConflictType) string {
	name := displayName(item)
	switch c {
	case reservation.ConflictAlreadySold:
		return fmt.Sprintf("%s has already been sold", name)
	case reservation.ConflictReservedElsewhere:
		return fmt.Sprintf("%s is being processed at another register", name)
	default:
		return fmt.Sprintf("could not reserve %s, try again", name)
	}
}
