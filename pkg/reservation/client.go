package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to the external reservation store. It holds no reservation
// state of its own; every call is a single round trip.
type Client struct {
	baseURL string
	http    *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ---- Wire format ----

type reserveReq struct {
	ReservedBy string `json:"reservedBy"`
}

type reserveResp struct {
	Success         bool     `json:"success"`
	ReservationID   string   `json:"reservationId,omitempty"`
	ExpiresAt       wireTime `json:"expiresAt,omitempty"`
	RemainingTimeMS int64    `json:"remainingTimeMs,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	ConflictType    string   `json:"conflictType,omitempty"`
}

type statusResp struct {
	IsReserved      bool     `json:"isReserved"`
	ReservedBy      string   `json:"reservedBy,omitempty"`
	ExpiresAt       wireTime `json:"expiresAt,omitempty"`
	RemainingTimeMS int64    `json:"remainingTimeMs,omitempty"`
}

// wireTime accepts RFC 3339 strings or epoch milliseconds.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return err
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expiresAt: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ---- Operations ----

// Reserve asks the store to lock itemID for reservedBy. It never returns a
// transport error: every failure is folded into Result.Conflict.
func (c *Client) Reserve(ctx context.Context, itemID, reservedBy string) Result {
	if itemID == "" {
		return Result{ErrorMessage: ErrItemIDRequired.Error(), Conflict: ConflictAPIError}
	}
	if reservedBy == "" {
		reservedBy = DefaultReservedBy
	}

	path := c.itemPath(itemID, "reserve")
	sent := time.Now()

	var out reserveResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, reserveReq{ReservedBy: reservedBy}, &out)
	if err != nil {
		return Result{ErrorMessage: err.Error(), Conflict: ConflictAPIError}
	}

	if code >= 200 && code < 300 && out.Success {
		if out.ReservationID == "" {
			return Result{ErrorMessage: "store returned success without reservationId", Conflict: ConflictAPIError}
		}
		res := Result{
			Success:       true,
			ReservationID: out.ReservationID,
			ExpiresAt:     out.ExpiresAt.Time,
			RemainingTime: time.Duration(out.RemainingTimeMS) * time.Millisecond,
		}
		if res.ExpiresAt.IsZero() && res.RemainingTime > 0 {
			res.ExpiresAt = sent.Add(res.RemainingTime).UTC()
		}
		return res
	}

	if !out.Success {
		switch ConflictType(out.ConflictType) {
		case ConflictAlreadySold, ConflictReservedElsewhere, ConflictAPIError:
			return Result{ErrorMessage: conflictMessage(out.ErrorMessage, out.ConflictType), Conflict: ConflictType(out.ConflictType)}
		}
		if code == http.StatusConflict {
			return Result{ErrorMessage: conflictMessage(out.ErrorMessage, string(ConflictReservedElsewhere)), Conflict: ConflictReservedElsewhere}
		}
	}

	se := &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	return Result{ErrorMessage: se.Error(), Conflict: ConflictAPIError}
}

// Release drops the lock on itemID. Unlike Reserve, failures are returned and
// the caller decides whether they matter.
func (c *Client) Release(ctx context.Context, itemID string) error {
	if itemID == "" {
		return ErrItemIDRequired
	}
	path := c.itemPath(itemID, "reserve")
	code, raw, err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return fmt.Errorf("release %s: %w", itemID, err)
	}
	if code < 200 || code >= 300 {
		return &UnexpectedStatusError{Method: http.MethodDelete, Path: path, Code: code, Body: raw}
	}
	return nil
}

// Status reports whether itemID is locked right now. Any failure yields the
// zero Status, which reads as "not reserved".
func (c *Client) Status(ctx context.Context, itemID string) Status {
	if itemID == "" {
		return Status{}
	}
	var out statusResp
	code, _, err := c.doJSON(ctx, http.MethodGet, c.itemPath(itemID, "reservation-status"), nil, &out)
	if err != nil || code != http.StatusOK {
		return Status{}
	}
	return Status{
		IsReserved:    out.IsReserved,
		ReservedBy:    out.ReservedBy,
		ExpiresAt:     out.ExpiresAt.Time,
		RemainingTime: time.Duration(out.RemainingTimeMS) * time.Millisecond,
	}
}

func (c *Client) itemPath(itemID, action string) string {
	return fmt.Sprintf("%s/api/items/%s/%s", c.baseURL, url.PathEscape(itemID), action)
}

func conflictMessage(msg, conflict string) string {
	if msg != "" {
		return msg
	}
	return conflict
}

// doJSON sends req as JSON when non-nil and decodes a JSON response into resp
// when both are present. Returns status code and the trimmed raw body.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	if err != nil {
		return rsp.StatusCode, "", err
	}
	raw := strings.TrimSpace(string(b))

	if resp != nil && len(b) > 0 {
		if err := json.Unmarshal(b, resp); err != nil && rsp.StatusCode >= 200 && rsp.StatusCode < 300 {
			// a 2xx must carry the documented body; error bodies may be free text
			return rsp.StatusCode, raw, fmt.Errorf("decode %s %s: %w", method, url, err)
		}
	}
	return rsp.StatusCode, raw, nil
}
