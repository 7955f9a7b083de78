package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"consignpos/internal/cart"
	"consignpos/pkg/reservation"
)

type fakeChannel struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	fail   error
	block  chan struct{}
	closed bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMessageFrom(t *testing.T) {
	tests := []struct {
		name string
		ev   cart.Event
		want Message
	}{
		{
			name: "warning carries remaining",
			ev:   cart.Event{Kind: cart.EventExpirationWarning, At: at, ItemID: "a", Remaining: 90 * time.Second},
			want: Message{Kind: "expiration_warning", ItemID: "a", RemainingMS: 90000, Remaining: "1:30", TerminalID: "till-1", At: "2026-03-01T12:00:00Z"},
		},
		{
			name: "expiry removal",
			ev:   cart.Event{Kind: cart.EventItemRemoved, At: at, ItemID: "a", Reason: cart.RemovedExpiry, Remaining: time.Minute},
			want: Message{Kind: "item_removed", ItemID: "a", Reason: "expired", TerminalID: "till-1", At: "2026-03-01T12:00:00Z"},
		},
		{
			name: "totals",
			ev:   cart.Event{Kind: cart.EventTotalsChanged, At: at, Totals: cart.Totals{SubtotalCents: 4999, TaxCents: 400, TotalCents: 5399}},
			want: Message{Kind: "totals_changed", SubtotalCents: 4999, TaxCents: 400, TotalCents: 5399, TerminalID: "till-1", At: "2026-03-01T12:00:00Z"},
		},
		{
			name: "conflict",
			ev:   cart.Event{Kind: cart.EventReserveConflict, At: at, ItemID: "b", Conflict: reservation.ConflictAlreadySold},
			want: Message{Kind: "reserve_conflict", ItemID: "b", ConflictType: "already_sold", TerminalID: "till-1", At: "2026-03-01T12:00:00Z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageFrom(tt.ev, "till-1"); got != tt.want {
				t.Fatalf("got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestPublisherFlushesOnClose(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "cart.events", "till-1", nil)
	l := p.Listener()

	l(cart.Event{Kind: cart.EventItemAdded, At: at, ItemID: "a"})
	l(cart.Event{Kind: cart.EventTotalsChanged, At: at, Totals: cart.Totals{SubtotalCents: 100, TotalCents: 100}})

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := p.Enqueue(Message{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.closed || len(ch.bodies) != 2 {
		t.Fatalf("closed=%v published=%d", ch.closed, len(ch.bodies))
	}
	var m Message
	if err := json.Unmarshal(ch.bodies[1], &m); err != nil {
		t.Fatal(err)
	}
	if m.Kind != "totals_changed" || m.TotalCents != 100 || ch.keys[1] != "cart.events" {
		t.Fatalf("unexpected message %+v on %q", m, ch.keys[1])
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{})}
	p := newPublisher(ch, "q", "till-1", nil)

	// one message is held by the blocked worker, the rest fill the buffer
	for i := 0; i < queueDepth+10; i++ {
		_ = p.Enqueue(Message{Kind: "item_added"})
	}
	if p.Dropped() == 0 {
		t.Fatal("expected drops once the queue filled")
	}
	close(ch.block)
	_ = p.Close()
}

func TestPublishFailureDoesNotStopLoop(t *testing.T) {
	ch := &fakeChannel{fail: errors.New("channel closed")}
	p := newPublisher(ch, "q", "till-1", nil)
	for i := 0; i < 3; i++ {
		if err := p.Enqueue(Message{Kind: "item_added"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
