package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"consignpos/internal/clock"
	"consignpos/internal/fakestore"
	"consignpos/pkg/reservation"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "reservation store base URL")
		itemID   = flag.String("item", "hot-item", "item id every terminal competes for")
		clients  = flag.Int("clients", 50, "number of concurrent terminals")
		duration = flag.Duration("duration", 20*time.Second, "test duration")
		hold     = flag.Duration("hold", 20*time.Millisecond, "time a terminal keeps the item")
		self     = flag.Bool("self", false, "run against an in-process store instead of -url")
		lease    = flag.Duration("lease", fakestore.DefaultLease, "lease length for the in-process store")
	)
	flag.Parse()

	target := *baseURL
	if *self {
		srv := httptest.NewServer(fakestore.New(clock.NewSystem(), *lease).Handler())
		defer srv.Close()
		target = srv.URL
	}

	httpc := &http.Client{Timeout: 10 * time.Second}
	tracker := fakestore.NewHolderTracker()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var (
		conflicts  int64
		sold       int64
		apiErrors  int64
		releaseOK  int64
		releaseErr int64
	)

	wg := sync.WaitGroup{}
	start := time.Now()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			terminal := "term-" + uuid.NewString()[:8]
			c := reservation.New(target, httpc)
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			for ctx.Err() == nil {
				res := c.Reserve(ctx, *itemID, terminal)
				if !res.Success {
					switch res.Conflict {
					case reservation.ConflictReservedElsewhere:
						atomic.AddInt64(&conflicts, 1)
					case reservation.ConflictAlreadySold:
						atomic.AddInt64(&sold, 1)
						return
					default:
						atomic.AddInt64(&apiErrors, 1)
					}
					time.Sleep(time.Duration(5+rng.Intn(15)) * time.Millisecond)
					continue
				}

				tracker.Enter(terminal)
				time.Sleep(*hold + time.Duration(rng.Int63n(int64(*hold)+1)))
				tracker.Leave(terminal)

				// release outside ctx so the last holder still lets go
				rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := c.Release(rctx, *itemID); err != nil {
					atomic.AddInt64(&releaseErr, 1)
				} else {
					atomic.AddInt64(&releaseOK, 1)
				}
				rcancel()

				// small think time to avoid tight loop
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)
	grants, violations := tracker.Stats()

	fmt.Println("=== Reservation Contention Test ===")
	fmt.Printf("duration: %s, terminals: %d, item: %s, store: %s\n", elapsed.Round(time.Millisecond), *clients, *itemID, target)
	fmt.Printf("reserve_success:    %d\n", grants)
	fmt.Printf("reserved_elsewhere: %d\n", conflicts)
	fmt.Printf("already_sold:       %d\n", sold)
	fmt.Printf("api_errors:         %d\n", apiErrors)
	fmt.Printf("release_success:    %d\n", releaseOK)
	fmt.Printf("release_errors:     %d\n", releaseErr)
	fmt.Printf("overlap_violations: %d\n", violations)

	if violations > 0 {
		os.Exit(1)
	}
}
