// Package api serves the dashboard over http.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kenshi-labs/unchained-dashboard/cache"
	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const StaleHeader = "X-Dashboard-Stale"

type DashboardProvider interface {
	Serve(ctx context.Context) (*cache.Result, error)
}

type Handler struct {
	dp     DashboardProvider
	logger *zap.SugaredLogger
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewHandler(dp DashboardProvider, logger *zap.SugaredLogger) *Handler {
	return &Handler{dp: dp, logger: logger}
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := h.dp.Serve(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// client is gone
			return
		}
		h.logger.Errorw("Error serving dashboard.", "error", err)
		var storeErr *domain.BackingStoreError
		if errors.As(err, &storeErr) {
			http.Error(w, "Dashboard temporarily unavailable", http.StatusServiceUnavailable)
		} else {
			http.Error(w, "Error getting dashboard", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Stale {
		w.Header().Set(StaleHeader, "true")
	}
	err = json.NewEncoder(w).Encode(result.Snapshot)
	if err != nil {
		h.logger.Errorw("Error encoding dashboard.", "error", err)
	}
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(HealthResponse{
		Status: "UP",
	})
	if err != nil {
		h.logger.Errorw("Error encoding health response.", "error", err)
	}
}
