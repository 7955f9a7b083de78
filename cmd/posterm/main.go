package main

import (
	"bufio"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consignpos/internal/cart"
	"consignpos/internal/config"
	"consignpos/internal/notify"
	"consignpos/internal/obs"
	"consignpos/pkg/reservation"
)

func main() {
	// Cancel context on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := obs.NewLogger()
	defer logger.Sync()
	metrics := obs.NewMetrics(nil)

	client := reservation.New(cfg.StoreURL, &http.Client{Timeout: cfg.RequestTimeout})
	engine := cart.New(&retryGateway{Client: client},
		cart.WithLogger(logger),
		cart.WithMetrics(metrics),
		cart.WithTaxRate(cfg.TaxRate),
		cart.WithReservedBy(cfg.TerminalID),
		cart.WithReleaseTimeout(cfg.ReleaseTimeout),
	)

	term := newTerminal(engine, os.Stdout)
	engine.Subscribe(term.printEvent)

	if cfg.AMQPURL != "" {
		pub, err := notify.Dial(cfg.AMQPURL, cfg.EventsQueue, cfg.TerminalID, logger)
		if err != nil {
			// the register keeps working without a broker
			logger.Error(map[string]interface{}{"op": "notify_dial", "queue": cfg.EventsQueue, "err": err})
		} else {
			defer pub.Close()
			engine.Subscribe(pub.Listener())
		}
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(map[string]interface{}{"op": "metrics_listen", "addr": cfg.MetricsAddr, "err": err})
			}
		}()
	}

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	// Stop waits for background releases before the broker and logger go away.
	defer engine.Stop()

	logger.Info(map[string]interface{}{"op": "posterm_up", "store": cfg.StoreURL, "terminal": cfg.TerminalID, "tax_rate": cfg.TaxRate})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	term.prompt()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || term.exec(ctx, line) {
				break loop
			}
			term.prompt()
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info(map[string]interface{}{"op": "posterm_stopped", "lines": engine.Len()})
}

// retryGateway retries transient store failures on reserve. Conflicts are
// returned on the first answer.
type retryGateway struct {
	*reservation.Client
	opt reservation.RetryOptions
}

func (g *retryGateway) Reserve(ctx context.Context, itemID, reservedBy string) reservation.Result {
	return g.Client.ReserveWithRetry(ctx, itemID, reservedBy, g.opt)
}
