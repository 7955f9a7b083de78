// Package notify forwards cart engine events to RabbitMQ as JSON messages.
// Publishing is best-effort: a slow or absent broker never blocks the cart.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"consignpos/internal/cart"
	"consignpos/internal/obs"
	"consignpos/pkg/leasetime"
)

// Message is the wire shape of one engine event.
type Message struct {
	Kind          string `json:"kind"`
	ItemID        string `json:"itemId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	RemainingMS   int64  `json:"remainingMs,omitempty"`
	Remaining     string `json:"remaining,omitempty"`
	SubtotalCents int64  `json:"subtotalCents"`
	TaxCents      int64  `json:"taxCents"`
	TotalCents    int64  `json:"totalCents"`
	ConflictType  string `json:"conflictType,omitempty"`
	TerminalID    string `json:"terminalId"`
	At            string `json:"at"`
}

func MessageFrom(ev cart.Event, terminalID string) Message {
	m := Message{
		Kind:          string(ev.Kind),
		ItemID:        ev.ItemID,
		Reason:        string(ev.Reason),
		SubtotalCents: ev.Totals.SubtotalCents,
		TaxCents:      ev.Totals.TaxCents,
		TotalCents:    ev.Totals.TotalCents,
		ConflictType:  string(ev.Conflict),
		TerminalID:    terminalID,
		At:            ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Kind == cart.EventExpirationWarning {
		m.RemainingMS = ev.Remaining.Milliseconds()
		m.Remaining = leasetime.Format(ev.Remaining)
	}
	return m
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

const (
	queueDepth     = 256
	publishTimeout = 3 * time.Second
)

var ErrClosed = errors.New("publisher closed")

type Publisher struct {
	queue      string
	terminalID string
	logger     *obs.Logger

	ch   channel
	conn *amqp.Connection

	mu      sync.Mutex
	closed  bool
	pending chan Message
	done    chan struct{}
	dropped int64
}

// Dial connects to the broker and declares queue as durable.
func Dial(url, queue, terminalID string, logger *obs.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
	}
	p := newPublisher(ch, queue, terminalID, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue, terminalID string, logger *obs.Logger) *Publisher {
	p := &Publisher{
		queue:      queue,
		terminalID: terminalID,
		logger:     logger,
		ch:         ch,
		pending:    make(chan Message, queueDepth),
		done:       make(chan struct{}),
	}
	go p.loop()
	return p
}

// Listener returns a cart.Listener that enqueues every event. Events arriving
// while the queue is full are dropped and counted.
func (p *Publisher) Listener() cart.Listener {
	return func(ev cart.Event) {
		if err := p.Enqueue(MessageFrom(ev, p.terminalID)); err != nil && !errors.Is(err, ErrClosed) {
			p.logger.Warn(map[string]interface{}{"op": "notify_drop", "kind": string(ev.Kind), "item": ev.ItemID, "err": err})
		}
	}
}

func (p *Publisher) Enqueue(m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.pending <- m:
		return nil
	default:
		p.dropped++
		return errors.New("publish queue full")
	}
}

// Dropped reports how many messages were discarded because the queue was full.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) loop() {
	defer close(p.done)
	for m := range p.pending {
		if err := p.publish(m); err != nil {
			p.logger.Error(map[string]interface{}{"op": "notify_publish", "kind": m.Kind, "item": m.ItemID, "err": err})
		}
	}
}

func (p *Publisher) publish(m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         m.Kind,
		Body:         body,
	})
}

// Close stops accepting events, flushes what is queued and closes the
// channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	<-p.done
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
