package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var keys = []string{"STORE_URL", "TERMINAL_ID", "TAX_RATE", "REQUEST_TIMEOUT", "RELEASE_TIMEOUT", "METRICS_ADDR", "AMQP_URL", "EVENTS_QUEUE"}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	want := Config{
		StoreURL:       "http://localhost:8080",
		TerminalID:     "pos-terminal",
		RequestTimeout: 10 * time.Second,
		ReleaseTimeout: 5 * time.Second,
		EventsQueue:    "cart.events",
	}
	if c != want {
		t.Fatalf("got %+v\nwant %+v", c, want)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestOverridesAndFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "https://store.example.com/")
	t.Setenv("TERMINAL_ID", "till-3")
	t.Setenv("TAX_RATE", "0.0825")
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")
	t.Setenv("RELEASE_TIMEOUT", "2s")

	c := FromEnv()
	if c.StoreURL != "https://store.example.com" {
		t.Fatalf("trailing slash should be trimmed, got %q", c.StoreURL)
	}
	if c.TerminalID != "till-3" || c.TaxRate != 0.0825 || c.ReleaseTimeout != 2*time.Second {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.RequestTimeout != 10*time.Second {
		t.Fatalf("bad duration should fall back, got %v", c.RequestTimeout)
	}
}

func TestValidate(t *testing.T) {
	base := Config{StoreURL: "http://s", TerminalID: "t", RequestTimeout: time.Second, ReleaseTimeout: time.Second}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative tax", func(c *Config) { c.TaxRate = -0.01 }},
		{"infinite tax", func(c *Config) { c.TaxRate = math.Inf(1) }},
		{"relative store url", func(c *Config) { c.StoreURL = "store:8080/x" }},
		{"empty terminal", func(c *Config) { c.TerminalID = "" }},
		{"zero release timeout", func(c *Config) { c.ReleaseTimeout = 0 }},
		{"amqp without queue", func(c *Config) { c.AMQPURL = "amqp://localhost"; c.EventsQueue = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("TERMINAL_ID")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TERMINAL_ID=till-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if got := Load().TerminalID; got != "till-from-file" {
		t.Fatalf("TERMINAL_ID=%q", got)
	}
}
