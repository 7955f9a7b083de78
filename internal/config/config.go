// Package config loads terminal configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"consignpos/internal/cart"
)

type Config struct {
	StoreURL       string
	TerminalID     string
	TaxRate        float64
	RequestTimeout time.Duration
	ReleaseTimeout time.Duration
	MetricsAddr    string // empty disables /metrics
	AMQPURL        string // empty disables event publishing
	EventsQueue    string
}

var ErrInvalid = errors.New("invalid configuration")

// Load reads .env (if any) and then the process environment. Unparseable
// values fall back to their defaults.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment without touching .env.
func FromEnv() Config {
	return Config{
		StoreURL:       strings.TrimRight(envStr("STORE_URL", "http://localhost:8080"), "/"),
		TerminalID:     envStr("TERMINAL_ID", "pos-terminal"),
		TaxRate:        envFloat("TAX_RATE", 0),
		RequestTimeout: envDur("REQUEST_TIMEOUT", 10*time.Second),
		ReleaseTimeout: envDur("RELEASE_TIMEOUT", 5*time.Second),
		MetricsAddr:    envStr("METRICS_ADDR", ""),
		AMQPURL:        envStr("AMQP_URL", ""),
		EventsQueue:    envStr("EVENTS_QUEUE", "cart.events"),
	}
}

func (c Config) Validate() error {
	if !cart.ValidTaxRate(c.TaxRate) {
		return fmt.Errorf("%w: TAX_RATE must be a non-negative number, got %v", ErrInvalid, c.TaxRate)
	}
	u, err := url.Parse(c.StoreURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: STORE_URL %q is not an absolute URL", ErrInvalid, c.StoreURL)
	}
	if c.TerminalID == "" {
		return fmt.Errorf("%w: TERMINAL_ID is empty", ErrInvalid)
	}
	if c.RequestTimeout <= 0 || c.ReleaseTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if c.AMQPURL != "" && c.EventsQueue == "" {
		return fmt.Errorf("%w: EVENTS_QUEUE is empty", ErrInvalid)
	}
	return nil
}

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
