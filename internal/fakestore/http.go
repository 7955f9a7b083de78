package fakestore

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// Handler serves the store contract under /api/items/.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/items/", s.handleItems)
	return withRequestID(mux)
}

func (s *Store) handleItems(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// /api/items/{id}/reserve             POST, DELETE
	// /api/items/{id}/reservation-status  GET
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/items/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}
	itemID, err := url.PathUnescape(parts[0])
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid item id")
		return
	}

	switch parts[1] {
	case "reserve":
		switch r.Method {
		case http.MethodPost:
			s.handleReserve(w, r, itemID)
		case http.MethodDelete:
			s.handleRelease(w, itemID)
		default:
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "reservation-status":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStatus(w, itemID)
	default:
		writeErr(w, http.StatusNotFound, "unknown action")
	}
}

type reserveReq struct {
	ReservedBy string `json:"reservedBy"`
}

type reserveResp struct {
	Success         bool   `json:"success"`
	ReservationID   string `json:"reservationId,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	RemainingTimeMS int64  `json:"remainingTimeMs,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	ConflictType    string `json:"conflictType,omitempty"`
}

func (s *Store) handleReserve(w http.ResponseWriter, r *http.Request, itemID string) {
	var req reserveReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ReservedBy == "" {
		writeErr(w, http.StatusBadRequest, "reservedBy required")
		return
	}

	l, outcome := s.reserve(itemID, req.ReservedBy)
	switch outcome {
	case outcomeSold:
		writeJSON(w, http.StatusConflict, reserveResp{
			ErrorMessage: "item has already been sold",
			ConflictType: "already_sold",
		})
	case outcomeHeld:
		writeJSON(w, http.StatusConflict, reserveResp{
			ErrorMessage: "item is reserved by " + l.ReservedBy,
			ConflictType: "reserved_elsewhere",
		})
	default:
		writeJSON(w, http.StatusOK, reserveResp{
			Success:         true,
			ReservationID:   l.ReservationID,
			ExpiresAt:       l.ExpiresAt.UTC().Format(time.RFC3339Nano),
			RemainingTimeMS: l.ExpiresAt.Sub(s.clock.Now()).Milliseconds(),
		})
	}
}

func (s *Store) handleRelease(w http.ResponseWriter, itemID string) {
	if !s.release(itemID) {
		writeErr(w, http.StatusServiceUnavailable, "release unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent) // idempotent
}

type statusResp struct {
	IsReserved      bool   `json:"isReserved"`
	ReservedBy      string `json:"reservedBy,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	RemainingTimeMS int64  `json:"remainingTimeMs,omitempty"`
}

func (s *Store) handleStatus(w http.ResponseWriter, itemID string) {
	s.mu.Lock()
	failing := s.failStatus
	s.mu.Unlock()
	if failing {
		writeErr(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}

	l, ok := s.Active(itemID)
	if !ok {
		writeJSON(w, http.StatusOK, statusResp{IsReserved: false})
		return
	}
	writeJSON(w, http.StatusOK, statusResp{
		IsReserved:      true,
		ReservedBy:      l.ReservedBy,
		ExpiresAt:       l.ExpiresAt.UTC().Format(time.RFC3339Nano),
		RemainingTimeMS: l.ExpiresAt.Sub(s.clock.Now()).Milliseconds(),
	})
}

// --- helpers ---

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
