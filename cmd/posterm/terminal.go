package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"consignpos/internal/cart"
	"consignpos/pkg/leasetime"
)

const usage = `commands:
  add  <id> <name> <price> [sku] [consignor]   add without reserving
  hold <id> <name> <price> [sku] [consignor]   reserve in the store and add
  rm   <id>                                    remove and release
  ls                                           list lines and totals
  sync <id>                                    reconcile a reservation with the store
  tax  <rate>                                  set tax rate, e.g. 0.08
  sale                                         complete the sale and clear the cart
  quit`

// terminal executes one command line at a time against the engine. Output
// from commands and from engine events share one writer.
type terminal struct {
	engine *cart.Engine

	mu  sync.Mutex
	out io.Writer
}

func newTerminal(e *cart.Engine, out io.Writer) *terminal {
	return &terminal{engine: e, out: out}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) prompt() { t.printf("> ") }

// exec runs one command and reports whether the terminal should exit.
func (t *terminal) exec(ctx context.Context, line string) bool {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false
	}
	switch strings.ToLower(f[0]) {
	case "add", "hold":
		item, err := parseItem(f[1:])
		if err != nil {
			t.printf("error: %v\n", err)
			return false
		}
		if f[0] == "add" {
			err = t.engine.AddItem(item)
		} else {
			_, err = t.engine.ReserveAndAdd(ctx, item)
		}
		if err != nil && !errors.Is(err, cart.ErrDuplicateItem) {
			t.printf("error: %v\n", err)
		}
	case "rm":
		if len(f) != 2 {
			t.printf("usage: rm <id>\n")
			return false
		}
		t.engine.RemoveItem(ctx, f[1])
	case "ls":
		t.list()
	case "sync":
		if len(f) != 2 {
			t.printf("usage: sync <id>\n")
			return false
		}
		if err := t.engine.SyncReservation(ctx, f[1]); err != nil {
			t.printf("error: %v\n", err)
		}
	case "tax":
		if len(f) != 2 {
			t.printf("usage: tax <rate>\n")
			return false
		}
		rate, err := strconv.ParseFloat(f[1], 64)
		if err == nil {
			err = t.engine.SetTaxRate(rate)
		}
		if err != nil {
			t.printf("error: %v\n", err)
		}
	case "sale":
		totals := t.engine.Totals()
		t.engine.Clear()
		t.printf("sale complete: %s\n", money(totals.TotalCents))
	case "quit", "exit":
		return true
	default:
		t.printf("%s\n", usage)
	}
	return false
}

func (t *terminal) list() {
	lines := t.engine.Lines()
	totals := t.engine.Totals()

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(lines) == 0 {
		fmt.Fprintln(t.out, "cart is empty")
	}
	for _, l := range lines {
		timer := "-"
		if l.Locked() {
			timer = leasetime.Format(l.Remaining)
		}
		fmt.Fprintf(t.out, "%-12s %-24s %9s  %-8s %s\n", l.Item.ID, l.Item.Name, money(l.Item.PriceCents), l.State(), timer)
	}
	fmt.Fprintf(t.out, "subtotal %s  tax %s  total %s\n", money(totals.SubtotalCents), money(totals.TaxCents), money(totals.TotalCents))
}

func (t *terminal) printEvent(ev cart.Event) {
	switch ev.Kind {
	case cart.EventItemAdded:
		t.printf("added %s (%s)\n", ev.Item.Name, money(ev.Item.PriceCents))
	case cart.EventItemRemoved:
		switch ev.Reason {
		case cart.RemovedExpiry:
			t.printf("reservation expired: %s removed from cart\n", ev.ItemID)
		case cart.RemovedLost:
			// reported by the reservation_lost message
		default:
			t.printf("removed %s\n", ev.ItemID)
		}
	case cart.EventExpirationWarning:
		t.printf("warning: %s\n", ev.Message)
	case cart.EventDuplicateRejected, cart.EventReserveConflict, cart.EventReservationLost:
		t.printf("%s\n", ev.Message)
	case cart.EventTotalsChanged:
		t.printf("total %s\n", money(ev.Totals.TotalCents))
	case cart.EventCartCleared:
		t.printf("cart cleared\n")
	}
}

func parseItem(args []string) (cart.Item, error) {
	if len(args) < 3 {
		return cart.Item{}, errors.New("need <id> <name> <price>")
	}
	cents, err := parseCents(args[2])
	if err != nil {
		return cart.Item{}, err
	}
	item := cart.Item{ID: args[0], Name: args[1], PriceCents: cents}
	if len(args) > 3 {
		item.SKU = args[3]
	}
	if len(args) > 4 {
		item.ConsignorName = strings.Join(args[4:], " ")
	}
	return item, nil
}

// parseCents reads a decimal dollar amount such as "49.99" or "$12".
func parseCents(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return int64(math.Round(v * 100)), nil
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
