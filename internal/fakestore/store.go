// Package fakestore is an in-memory reservation store speaking the same HTTP
// contract as the real one. Tests and the load tool run against it; nothing
// is persisted.
package fakestore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"consignpos/internal/clock"
)

const DefaultLease = 15 * time.Minute

type Lease struct {
	ItemID        string
	ReservationID string
	ReservedBy    string
	ReservedAt    time.Time
	ExpiresAt     time.Time
}

type Store struct {
	mu       sync.Mutex
	clock    clock.Clock
	lease    time.Duration
	leases   map[string]Lease
	sold     map[string]bool
	releases int

	failReleases bool
	failStatus   bool
}

func New(clk clock.Clock, lease time.Duration) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Store{
		clock:  clk,
		lease:  lease,
		leases: make(map[string]Lease),
		sold:   make(map[string]bool),
	}
}

type reserveOutcome int

const (
	outcomeGranted reserveOutcome = iota
	outcomeSold
	outcomeHeld
)

// reserve grants a lease unless the item is sold or actively held by someone
// else. A repeat reserve by the current holder returns the existing lease.
func (s *Store) reserve(itemID, reservedBy string) (Lease, reserveOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sold[itemID] {
		return Lease{}, outcomeSold
	}
	now := s.clock.Now()
	if cur, ok := s.leases[itemID]; ok && cur.ExpiresAt.After(now) {
		if cur.ReservedBy == reservedBy {
			return cur, outcomeGranted
		}
		return cur, outcomeHeld
	}

	l := Lease{
		ItemID:        itemID,
		ReservationID: uuid.NewString(),
		ReservedBy:    reservedBy,
		ReservedAt:    now,
		ExpiresAt:     now.Add(s.lease),
	}
	s.leases[itemID] = l
	return l, outcomeGranted
}

func (s *Store) release(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReleases {
		return false
	}
	delete(s.leases, itemID)
	s.releases++
	return true
}

// Active returns the unexpired lease on itemID, if any.
func (s *Store) Active(itemID string) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[itemID]
	if !ok || !l.ExpiresAt.After(s.clock.Now()) {
		return Lease{}, false
	}
	return l, true
}

// MarkSold makes every later reserve of itemID answer already_sold and drops
// any lease on it.
func (s *Store) MarkSold(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sold[itemID] = true
	delete(s.leases, itemID)
}

// Extend pushes an active lease's expiry out by d.
func (s *Store) Extend(itemID string, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[itemID]
	if !ok || !l.ExpiresAt.After(s.clock.Now()) {
		return false
	}
	l.ExpiresAt = l.ExpiresAt.Add(d)
	s.leases[itemID] = l
	return true
}

// Drop forgets a lease as if it had been released by another party.
func (s *Store) Drop(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, itemID)
}

// FailReleases makes release answer 503 while on.
func (s *Store) FailReleases(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReleases = on
}

// FailStatus makes the status endpoint answer 503 while on.
func (s *Store) FailStatus(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = on
}

// Releases counts successful release calls.
func (s *Store) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
