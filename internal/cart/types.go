package cart

import (
	"time"

	"consignpos/pkg/leasetime"
)

type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemReserved  ItemStatus = "reserved"
	ItemSold      ItemStatus = "sold"
)

// Item is the snapshot of an inventory item taken when it enters the cart.
// Consigned goods are unique, so Quantity is 1 in practice.
type Item struct {
	ID            string
	Name          string
	SKU           string
	PriceCents    int64
	ConsignorName string
	Status        ItemStatus
	Quantity      int
}

// Reservation is the local cache of a store-side lease on one item.
type Reservation struct {
	ItemID        string
	ReservationID string
	Active        bool
	ReservedAt    time.Time
	ExpiresAt     time.Time
}

// LeaseDuration is ExpiresAt-ReservedAt as granted by the store.
func (r Reservation) LeaseDuration() time.Duration {
	if r.ReservedAt.IsZero() || r.ExpiresAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(r.ReservedAt)
}

type TimerState int

const (
	StateUnlocked TimerState = iota
	StateActive
	StateWarning
	StateExpired
)

func (s TimerState) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Line is one entry of the sale. Lines returned by the engine are copies;
// changing them has no effect on the cart.
type Line struct {
	Item        Item
	Reservation *Reservation

	// Remaining is recomputed on every tick and is display-only.
	Remaining time.Duration
}

// Locked reports whether the line is backed by an active reservation.
func (l Line) Locked() bool {
	return l.Reservation != nil && l.Reservation.Active
}

// State classifies the line from its last computed Remaining.
func (l Line) State() TimerState {
	if !l.Locked() {
		return StateUnlocked
	}
	switch {
	case l.Remaining <= 0:
		return StateExpired
	case leasetime.IsExpiringSoon(l.Remaining, leasetime.DefaultWarningThreshold):
		return StateWarning
	default:
		return StateActive
	}
}

func (l Line) clone() Line {
	if l.Reservation != nil {
		r := *l.Reservation
		l.Reservation = &r
	}
	return l
}

// Totals are recomputed from the lines on every read.
type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	TotalCents    int64
}
