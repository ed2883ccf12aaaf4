package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"camperpark/internal/auth"
	"camperpark/internal/models"
	"camperpark/internal/registry"
)

// NewListStaysHandler handles GET /stays?state=pending|active.
func NewListStaysHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			stays []models.Stay
			err   error
		)
		switch r.URL.Query().Get("state") {
		case "", "pending":
			stays, err = reg.Pending(r.Context())
		case "active":
			stays, err = reg.Active(r.Context())
		default:
			writeError(w, http.StatusBadRequest, "state must be pending or active")
			return
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stays": stays})
	}
}

// NewStayPriceHandler handles GET /stays/price?stay_id=N: the spot-rate quote
// for an active stay up to now.
func NewStayPriceHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stayID, err := strconv.ParseInt(r.URL.Query().Get("stay_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "stay_id is required")
			return
		}
		price, err := reg.SuggestedPrice(r.Context(), stayID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"suggested_price": price})
	}
}

// NewDetectHandler handles POST /stays/detect, the manual counterpart of the
// camera feed.
func NewDetectHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		Plate       string `json:"plate"`
		Country     string `json:"country"`
		VehicleType string `json:"vehicle_type"`
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

		stay, vehicle, err := reg.Detect(r.Context(), req.Plate, req.Country, req.VehicleType,
			time.Now().UTC(), auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"stay": stay, "vehicle": vehicle})
	}
}

// NewCheckInHandler handles POST /stays/checkin.
func NewCheckInHandler(reg *registry.Registry, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		StayID        int64           `json:"stay_id"`
		SpotType      models.SpotType `json:"spot_type"`
		ForceOverride bool            `json:"force_override"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		stay, spot, err := reg.CheckIn(r.Context(), req.StayID, req.SpotType, req.ForceOverride,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			logger.Debug("check-in rejected", zap.Int64("stay_id", req.StayID), zap.Error(err))
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay, "spot": spot})
	}
}

// NewManualEntryHandler handles POST /stays/manual-entry.
func NewManualEntryHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		Plate         string          `json:"plate"`
		Country       string          `json:"country"`
		VehicleType   string          `json:"vehicle_type"`
		SpotType      models.SpotType `json:"spot_type"`
		ForceOverride bool            `json:"force_override"`
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

		stay, spot, err := reg.ManualEntry(r.Context(), req.Plate, req.Country, req.VehicleType,
			req.SpotType, req.ForceOverride, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"stay": stay, "spot": spot})
	}
}

// NewPrepayHandler handles POST /stays/prepay.
func NewPrepayHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID   int64                `json:"stay_id"`
		Amount   float64              `json:"amount"`
		Method   models.PaymentMethod `json:"payment_method"`
		CheckIn  time.Time            `json:"check_in_time"`
		CheckOut time.Time            `json:"check_out_time"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.CheckIn.IsZero() {
			req.CheckIn = time.Now().UTC()
		}

		stay, result, err := reg.Prepay(r.Context(), req.StayID, req.Amount, req.Method,
			req.CheckIn, req.CheckOut, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay, "payment": result})
	}
}

// NewExtendHandler handles POST /stays/extend.
func NewExtendHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID      int64                `json:"stay_id"`
		NightsToAdd int                  `json:"nights_to_add"`
		Amount      float64              `json:"amount"`
		Method      models.PaymentMethod `json:"payment_method"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		stay, result, err := reg.Extend(r.Context(), req.StayID, req.NightsToAdd, req.Amount,
			req.Method, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay, "payment": result})
	}
}

// NewCheckOutHandler handles POST /stays/checkout.
func NewCheckOutHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID     int64                `json:"stay_id"`
		FinalPrice float64              `json:"final_price"`
		AmountPaid float64              `json:"amount_paid"`
		Method     models.PaymentMethod `json:"payment_method"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		stay, result, err := reg.CheckOut(r.Context(), req.StayID, req.FinalPrice, req.AmountPaid,
			req.Method, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay, "payment": result})
	}
}

// NewMarkSinpaHandler handles POST /stays/sinpa.
func NewMarkSinpaHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID int64  `json:"stay_id"`
		Notes  string `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		stay, entry, err := reg.MarkSinpa(r.Context(), req.StayID, req.Notes,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay, "blacklist_entry": entry})
	}
}

// NewDiscardHandler handles POST /stays/discard.
func NewDiscardHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID int64  `json:"stay_id"`
		Reason string `json:"reason"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "reason is required")
			return
		}

		stay, err := reg.Discard(r.Context(), req.StayID, req.Reason,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay})
	}
}

// NewDeleteCheckoutHandler handles POST /stays/delete-checkout.
func NewDeleteCheckoutHandler(reg *registry.Registry) http.HandlerFunc {
	type request struct {
		StayID int64 `json:"stay_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		stay, err := reg.DeleteCheckout(r.Context(), req.StayID,
			auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stay": stay})
	}
}
