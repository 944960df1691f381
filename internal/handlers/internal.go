package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brewline/api/internal/platform/httpx"
	"github.com/brewline/api/internal/services"
)

// InternalHandlers serves operator endpoints that are not part of the customer API.
type InternalHandlers struct {
	pickup services.PickupNumberService
}

// NewInternalHandlers constructs InternalHandlers.
func NewInternalHandlers(pickup services.PickupNumberService) *InternalHandlers {
	return &InternalHandlers{pickup: pickup}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Delete("/stores/{storeID}/pickup-numbers/{date}", h.resetPickupNumbers)
}

func (h *InternalHandlers) resetPickupNumbers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.pickup == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_service_unavailable", "pickup number service unavailable", http.StatusServiceUnavailable))
		return
	}

	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	date := strings.TrimSpace(chi.URLParam(r, "date"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be formatted as YYYY-MM-DD", http.StatusBadRequest))
		return
	}

	deleted, err := h.pickup.Reset(ctx, storeID, date)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPickupInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("pickup_reset_failed", "failed to reset pickup numbers", http.StatusServiceUnavailable))
		}
		return
	}

	httpx.WriteData(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"date":     date,
		"deleted":  deleted,
	})
}
