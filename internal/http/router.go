package httpserver

import "net/http"

// Routes groups all endpoint handlers. A nil handler leaves its route
// unregistered.
type Routes struct {
	Login  http.HandlerFunc
	Health http.HandlerFunc

	ANPRFeed http.HandlerFunc

	ListStays       http.HandlerFunc
	StayPrice       http.HandlerFunc
	Detect          http.HandlerFunc
	CheckIn         http.HandlerFunc
	ManualEntry     http.HandlerFunc
	Prepay          http.HandlerFunc
	Extend          http.HandlerFunc
	CheckOut        http.HandlerFunc
	MarkSinpa       http.HandlerFunc
	Discard         http.HandlerFunc
	DeleteCheckout  http.HandlerFunc
	Dashboard       http.HandlerFunc
	Occupancy       http.HandlerFunc
	History         http.HandlerFunc

	OpenSession      http.HandlerFunc
	ActiveSession    http.HandlerFunc
	LastClosing      http.HandlerFunc
	PreClose         http.HandlerFunc
	CloseSession     http.HandlerFunc
	Withdraw         http.HandlerFunc
	ProductSale      http.HandlerFunc
	PendingTransfers http.HandlerFunc
	ConfirmTransfer  http.HandlerFunc
	TransferSinpa    http.HandlerFunc
	UndoTransaction  http.HandlerFunc

	ListBlacklist    http.HandlerFunc
	CheckBlacklist   http.HandlerFunc
	AddBlacklist     http.HandlerFunc
	ResolveBlacklist http.HandlerFunc
}

// NewRouter wires all routes. Everything except login, health and the camera
// feed goes through the authenticate middleware.
func NewRouter(routes Routes, authenticate func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	register := func(path, verb string, handler http.HandlerFunc, protected bool) {
		if handler == nil {
			return
		}
		h := method(verb, handler)
		if protected && authenticate != nil {
			mux.Handle(path, authenticate(h))
			return
		}
		mux.Handle(path, h)
	}

	register("/auth/login", http.MethodPost, routes.Login, false)
	register("/health", http.MethodGet, routes.Health, false)
	register("/anpr/feed", http.MethodGet, routes.ANPRFeed, false)

	register("/stays", http.MethodGet, routes.ListStays, true)
	register("/stays/price", http.MethodGet, routes.StayPrice, true)
	register("/stays/detect", http.MethodPost, routes.Detect, true)
	register("/stays/checkin", http.MethodPost, routes.CheckIn, true)
	register("/stays/manual-entry", http.MethodPost, routes.ManualEntry, true)
	register("/stays/prepay", http.MethodPost, routes.Prepay, true)
	register("/stays/extend", http.MethodPost, routes.Extend, true)
	register("/stays/checkout", http.MethodPost, routes.CheckOut, true)
	register("/stays/sinpa", http.MethodPost, routes.MarkSinpa, true)
	register("/stays/discard", http.MethodPost, routes.Discard, true)
	register("/stays/delete-checkout", http.MethodPost, routes.DeleteCheckout, true)
	register("/dashboard", http.MethodGet, routes.Dashboard, true)
	register("/occupancy", http.MethodGet, routes.Occupancy, true)
	register("/history", http.MethodGet, routes.History, true)

	register("/cash/open", http.MethodPost, routes.OpenSession, true)
	register("/cash/session", http.MethodGet, routes.ActiveSession, true)
	register("/cash/last-closing", http.MethodGet, routes.LastClosing, true)
	register("/cash/pre-close", http.MethodGet, routes.PreClose, true)
	register("/cash/close", http.MethodPost, routes.CloseSession, true)
	register("/cash/withdraw", http.MethodPost, routes.Withdraw, true)
	register("/cash/product-sale", http.MethodPost, routes.ProductSale, true)
	register("/cash/pending-transfers", http.MethodGet, routes.PendingTransfers, true)
	register("/cash/confirm-transfer", http.MethodPost, routes.ConfirmTransfer, true)
	register("/cash/transfer-sinpa", http.MethodPost, routes.TransferSinpa, true)
	register("/cash/undo", http.MethodPost, routes.UndoTransaction, true)

	register("/blacklist", http.MethodGet, routes.ListBlacklist, true)
	register("/blacklist/check", http.MethodGet, routes.CheckBlacklist, true)
	register("/blacklist/add", http.MethodPost, routes.AddBlacklist, true)
	register("/blacklist/resolve", http.MethodPost, routes.ResolveBlacklist, true)

	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
