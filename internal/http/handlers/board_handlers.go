package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"camperpark/internal/cache"
	"camperpark/internal/registry"
)

// NewDashboardHandler handles GET /dashboard.
func NewDashboardHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dash, err := reg.DashboardData(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}

// NewOccupancyHandler handles GET /occupancy from the redis board. A nil
// board reports the feature as unavailable rather than failing auth'd
// clients silently.
func NewOccupancyHandler(board *cache.OccupancyBoard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if board == nil {
			writeError(w, http.StatusServiceUnavailable, "occupancy board is not configured")
			return
		}
		occupancies, err := board.Board(r.Context())
		if err != nil {
			logger.Warn("failed to read occupancy board", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read occupancy board")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"occupied": occupancies})
	}
}

// NewHistoryHandler handles GET /history?limit=N.
func NewHistoryHandler(reg *registry.Registry) http.HandlerFunc {
	const defaultLimit = 100

	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		entries, err := reg.History(r.Context(), limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}
