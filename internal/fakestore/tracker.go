package fakestore

import "sync"

// HolderTracker records the intervals during which terminals believe they
// hold an item and counts every grant that began while another was open.
type HolderTracker struct {
	mu         sync.Mutex
	holders    map[string]struct{}
	grants     int64
	violations int64
}

func NewHolderTracker() *HolderTracker {
	return &HolderTracker{holders: make(map[string]struct{})}
}

func (h *HolderTracker) Enter(terminal string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.holders) > 0 {
		h.violations++
	}
	h.holders[terminal] = struct{}{}
	h.grants++
}

func (h *HolderTracker) Leave(terminal string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.holders, terminal)
}

func (h *HolderTracker) Stats() (grants, violations int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grants, h.violations
}
