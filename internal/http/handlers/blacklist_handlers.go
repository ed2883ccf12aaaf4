package handlers

import (
	"net/http"

	"camperpark/internal/auth"
	"camperpark/internal/blacklist"
	"camperpark/internal/models"
)

// NewListBlacklistHandler handles GET /blacklist?include_resolved=true.
func NewListBlacklistHandler(tracker *blacklist.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeResolved := r.URL.Query().Get("include_resolved") == "true"
		entries, err := tracker.List(r.Context(), includeResolved)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}

// NewCheckBlacklistHandler handles GET /blacklist/check?plate=X.
func NewCheckBlacklistHandler(tracker *blacklist.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plate := r.URL.Query().Get("plate")
		if plate == "" {
			writeError(w, http.StatusBadRequest, "plate is required")
			return
		}
		status, err := tracker.Check(r.Context(), plate)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// NewAddBlacklistHandler handles POST /blacklist/add, for incidents outside
// the stay flow.
func NewAddBlacklistHandler(tracker *blacklist.Tracker) http.HandlerFunc {
	type request struct {
		Plate      string  `json:"plate"`
		AmountOwed float64 `json:"amount_owed"`
		Notes      string  `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Plate == "" {
			writeError(w, http.StatusBadRequest, "plate is required")
			return
		}
		if req.AmountOwed < 0 {
			writeError(w, http.StatusBadRequest, "amount_owed must not be negative")
			return
		}

		entry, err := tracker.Add(r.Context(), req.Plate, req.AmountOwed, req.Notes,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"entry": entry})
	}
}

// NewResolveBlacklistHandler handles POST /blacklist/resolve.
func NewResolveBlacklistHandler(tracker *blacklist.Tracker) http.HandlerFunc {
	type request struct {
		EntryID int64                `json:"entry_id"`
		Paid    bool                 `json:"paid"`
		Method  models.PaymentMethod `json:"payment_method"`
		Notes   string               `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		entry, tx, err := tracker.Resolve(r.Context(), req.EntryID, req.Paid, req.Method, req.Notes,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entry": entry, "transaction": tx})
	}
}
