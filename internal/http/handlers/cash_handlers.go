package handlers

import (
	"net/http"
	"strconv"

	"camperpark/internal/auth"
	"camperpark/internal/ledger"
	"camperpark/internal/models"
	"camperpark/internal/registry"
)

// NewOpenSessionHandler handles POST /cash/open.
func NewOpenSessionHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		InitialAmount float64 `json:"initial_amount"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.InitialAmount < 0 {
			writeError(w, http.StatusBadRequest, "initial amount must not be negative")
			return
		}

		session, err := l.OpenSession(r.Context(), req.InitialAmount, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"session": session})
	}
}

// NewActiveSessionHandler handles GET /cash/session: the open session with
// its transactions.
func NewActiveSessionHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := l.Active(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		txs, err := l.Transactions(r.Context(), session.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session":         session,
			"expected_amount": session.ExpectedAmount(),
			"transactions":    txs,
		})
	}
}

// NewLastClosingHandler handles GET /cash/last-closing, used to suggest the
// next opening float.
func NewLastClosingHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := l.LastClosing(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		suggested := 0.0
		if session.Close != nil {
			suggested = session.Close.RemainingInRegister
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session":                 session,
			"suggested_initial_float": suggested,
		})
	}
}

// NewPreCloseHandler handles GET /cash/pre-close?change_target=N.
func NewPreCloseHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var target float64
		if raw := r.URL.Query().Get("change_target"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid change_target")
				return
			}
			target = parsed
		}

		info, err := l.PreClose(r.Context(), target)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// NewCloseSessionHandler handles POST /cash/close.
func NewCloseSessionHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		CashBreakdown    map[string]int `json:"cash_breakdown"`
		ActualCard       float64        `json:"actual_card"`
		ActualTransfer   float64        `json:"actual_transfer"`
		ActualWithdrawal float64        `json:"actual_withdrawal"`
		ChangeTarget     float64        `json:"change_target"`
		Notes            string         `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.CashBreakdown) == 0 {
			writeError(w, http.StatusBadRequest, "cash_breakdown is required")
			return
		}

		session, err := l.Close(r.Context(), ledger.CloseInput{
			CashBreakdown:    req.CashBreakdown,
			ActualCard:       req.ActualCard,
			ActualTransfer:   req.ActualTransfer,
			ActualWithdrawal: req.ActualWithdrawal,
			SuggestedChange:  req.ChangeTarget,
			Notes:            req.Notes,
			User:             auth.UsernameFromContext(r.Context()),
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
	}
}

// NewWithdrawHandler handles POST /cash/withdraw.
func NewWithdrawHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		Amount float64 `json:"amount"`
		Notes  string  `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be positive")
			return
		}

		tx, err := l.Withdraw(r.Context(), req.Amount, req.Notes, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": tx})
	}
}

// NewProductSaleHandler handles POST /cash/product-sale.
func NewProductSaleHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		ProductName string               `json:"product_name"`
		Quantity    int                  `json:"quantity"`
		UnitPrice   float64              `json:"unit_price"`
		Method      models.PaymentMethod `json:"payment_method"`
		AmountPaid  float64              `json:"amount_paid"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ProductName == "" || req.Quantity <= 0 || req.UnitPrice <= 0 {
			writeError(w, http.StatusBadRequest, "product_name, quantity and unit_price are required")
			return
		}

		result, err := l.PostProductSale(r.Context(), ledger.ProductSaleInput{
			ProductName: req.ProductName,
			Quantity:    req.Quantity,
			UnitPrice:   req.UnitPrice,
			Method:      req.Method,
			AmountPaid:  req.AmountPaid,
			User:        auth.UsernameFromContext(r.Context()),
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"payment": result})
	}
}

// NewPendingTransfersHandler handles GET /cash/pending-transfers: unconfirmed
// transfers plus active stays whose payment is still unregistered.
func NewPendingTransfersHandler(l *ledger.Ledger, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pendings, err := l.PendingTransfers(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		active, err := reg.Active(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		unpaid := make([]models.Stay, 0)
		for _, stay := range active {
			if stay.PaymentStatus == models.PaymentPending {
				unpaid = append(unpaid, stay)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pending_transfers": pendings,
			"unpaid_stays":      unpaid,
		})
	}
}

// NewConfirmTransferHandler handles POST /cash/confirm-transfer.
func NewConfirmTransferHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		PendingID int64 `json:"pending_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		tx, err := l.ConfirmTransfer(r.Context(), req.PendingID, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": tx})
	}
}

// NewTransferSinpaHandler handles POST /cash/transfer-sinpa.
func NewTransferSinpaHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		PendingID int64  `json:"pending_id"`
		Notes     string `json:"notes"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		entry, err := l.TransferSinpa(r.Context(), req.PendingID, req.Notes, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"blacklist_entry": entry})
	}
}

// NewUndoTransactionHandler handles POST /cash/undo.
func NewUndoTransactionHandler(l *ledger.Ledger) http.HandlerFunc {
	type request struct {
		TransactionID int64 `json:"transaction_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := l.Undo(r.Context(), req.TransactionID, auth.UsernameFromContext(r.Context()))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
