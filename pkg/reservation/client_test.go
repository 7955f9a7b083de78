package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", &http.Client{Timeout: 2 * time.Second})
}

func TestReserve_Success(t *testing.T) {
	var gotBy string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/items/item-1/reserve" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBy = body["reservedBy"]

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"reservationId": "R1",
			"expiresAt": "2026-03-01T12:15:00Z",
			"remainingTimeMs": 900000
		}`))
	})

	res := c.Reserve(context.Background(), "item-1", "")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ReservationID != "R1" || res.RemainingTime != 15*time.Minute {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	if !res.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt=%v want %v", res.ExpiresAt, want)
	}
	if gotBy != DefaultReservedBy {
		t.Fatalf("reservedBy=%q want default %q", gotBy, DefaultReservedBy)
	}
}

func TestReserve_ExpiryFromEpochOrRemaining(t *testing.T) {
	t.Run("epoch millis", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"reservationId":"R2","expiresAt":1772367300000,"remainingTimeMs":1000}`))
		})
		res := c.Reserve(context.Background(), "item-2", "till-3")
		if !res.Success || res.ExpiresAt.UnixMilli() != 1772367300000 {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("remaining only", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"reservationId":"R3","remainingTimeMs":60000}`))
		})
		before := time.Now()
		res := c.Reserve(context.Background(), "item-3", "till-3")
		if !res.Success {
			t.Fatalf("expected success, got %+v", res)
		}
		if res.ExpiresAt.Before(before.Add(time.Minute)) || res.ExpiresAt.After(time.Now().Add(time.Minute)) {
			t.Fatalf("derived expiresAt %v outside request window", res.ExpiresAt)
		}
	})
}

func TestReserve_ConflictsAreTagged(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want ConflictType
	}{
		{"already sold", http.StatusConflict, `{"success":false,"errorMessage":"item sold","conflictType":"already_sold"}`, ConflictAlreadySold},
		{"reserved elsewhere", http.StatusConflict, `{"success":false,"errorMessage":"held by till-2","conflictType":"reserved_elsewhere"}`, ConflictReservedElsewhere},
		{"bare 409", http.StatusConflict, `{"success":false}`, ConflictReservedElsewhere},
		{"server error text", http.StatusInternalServerError, `boom`, ConflictAPIError},
		{"2xx garbage", http.StatusOK, `not json`, ConflictAPIError},
		{"success without id", http.StatusOK, `{"success":true}`, ConflictAPIError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			})
			res := c.Reserve(context.Background(), "item-1", "till-1")
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Conflict != tc.want {
				t.Fatalf("conflict=%q want %q (msg=%s)", res.Conflict, tc.want, res.ErrorMessage)
			}
			if res.ErrorMessage == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestReserve_TransportFailureIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.URL, &http.Client{Timeout: time.Second})

	res := c.Reserve(context.Background(), "item-1", "till-1")
	if res.Success || res.Conflict != ConflictAPIError {
		t.Fatalf("expected api_error, got %+v", res)
	}
	if res := c.Reserve(context.Background(), "", "till-1"); res.Conflict != ConflictAPIError {
		t.Fatalf("empty id: expected api_error, got %+v", res)
	}
}

func TestRelease(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusNoContent)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/items/item-1/reserve" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(code.Load()))
	})

	if err := c.Release(context.Background(), "item-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	code.Store(http.StatusBadGateway)
	err := c.Release(context.Background(), "item-1")
	var se *UnexpectedStatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected UnexpectedStatusError 502, got %v", err)
	}

	if err := c.Release(context.Background(), ""); !errors.Is(err, ErrItemIDRequired) {
		t.Fatalf("expected ErrItemIDRequired, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	var fail atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items/item-1/reservation-status" {
			http.NotFound(w, r)
			return
		}
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"isReserved":true,"reservedBy":"till-9","expiresAt":"2026-03-01T12:15:00Z","remainingTimeMs":30000}`))
	})

	st := c.Status(context.Background(), "item-1")
	if !st.IsReserved || st.ReservedBy != "till-9" || st.RemainingTime != 30*time.Second {
		t.Fatalf("unexpected status: %+v", st)
	}

	fail.Store(true)
	if st := c.Status(context.Background(), "item-1"); st != (Status{}) {
		t.Fatalf("expected safe default on failure, got %+v", st)
	}
}

func TestReserveWithRetry(t *testing.T) {
	t.Run("retries api errors", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"success":true,"reservationId":"R9","remainingTimeMs":5000}`))
		})
		res := c.ReserveWithRetry(context.Background(), "item-1", "till-1", RetryOptions{
			MaxRetries: 5,
			MinRetry:   time.Millisecond,
			MaxRetry:   5 * time.Millisecond,
			JitterFrac: -1,
		})
		if !res.Success || res.ReservationID != "R9" {
			t.Fatalf("expected success, got %+v", res)
		}
		if calls.Load() != 3 {
			t.Fatalf("expected 3 calls, got %d", calls.Load())
		}
	})

	t.Run("conflicts are final", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"success":false,"conflictType":"already_sold"}`))
		})
		res := c.ReserveWithRetry(context.Background(), "item-1", "till-1", RetryOptions{MinRetry: time.Millisecond})
		if res.Conflict != ConflictAlreadySold || calls.Load() != 1 {
			t.Fatalf("expected one already_sold attempt, got %+v after %d calls", res, calls.Load())
		}
	})
}
