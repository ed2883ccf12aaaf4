package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"camperpark/internal/ledger"
	"camperpark/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps domain errors to HTTP statuses. Unknown errors become
// an opaque 500; the handler logs the detail.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "operation not allowed in current state")
	case errors.Is(err, store.ErrNoSpotAvailable):
		writeError(w, http.StatusConflict, "no free spot of requested type")
	case errors.Is(err, store.ErrBlacklistedVehicle):
		writeError(w, http.StatusConflict, "vehicle is blacklisted")
	case errors.Is(err, store.ErrNoOpenSession):
		writeError(w, http.StatusConflict, "no open cash session")
	case errors.Is(err, store.ErrSessionAlreadyOpen):
		writeError(w, http.StatusConflict, "a cash session is already open")
	case errors.Is(err, store.ErrSessionClosed):
		writeError(w, http.StatusConflict, "cash session is closed")
	case errors.Is(err, store.ErrInsufficientPayment):
		writeError(w, http.StatusUnprocessableEntity, "tendered cash does not cover the amount due")
	case errors.Is(err, store.ErrExceedsAvailable):
		writeError(w, http.StatusUnprocessableEntity, "withdrawal exceeds cash in register")
	case errors.Is(err, store.ErrNotPrepaid):
		writeError(w, http.StatusConflict, "stay is not prepaid")
	case errors.Is(err, store.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "entry already resolved")
	case errors.Is(err, store.ErrUndoInitial):
		writeError(w, http.StatusConflict, "opening float cannot be undone")
	case errors.Is(err, ledger.ErrNoteRequired):
		writeError(w, http.StatusUnprocessableEntity, "cash difference requires an explanatory note")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
