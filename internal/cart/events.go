package cart

import (
	"time"

	"consignpos/pkg/reservation"
)

type EventKind string

const (
	EventItemAdded         EventKind = "item_added"
	EventItemRemoved       EventKind = "item_removed"
	EventExpirationWarning EventKind = "expiration_warning"
	EventTotalsChanged     EventKind = "totals_changed"
	EventDuplicateRejected EventKind = "duplicate_rejected"
	EventReserveConflict   EventKind = "reserve_conflict"
	EventReservationLost   EventKind = "reservation_lost"
	EventCartCleared       EventKind = "cart_cleared"
)

type RemoveReason string

const (
	RemovedByUser RemoveReason = "user"
	RemovedExpiry RemoveReason = "expired"
	RemovedLost   RemoveReason = "lost" // store no longer holds the lease for this terminal
)

// Event is delivered to every subscribed Listener. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind   EventKind
	At     time.Time
	ItemID string
	Item   Item

	Reason    RemoveReason             // EventItemRemoved
	Remaining time.Duration            // EventExpirationWarning
	Totals    Totals                   // EventTotalsChanged
	Conflict  reservation.ConflictType // EventReserveConflict
	Message   string                   // user-facing text for warnings and conflicts
}

// Listener receives engine events. It is called outside the engine lock and
// may call back into the engine.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}
