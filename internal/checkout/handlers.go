package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/backend-mithaas/internal/common"
	"github.com/noah-isme/backend-mithaas/internal/promo"
)

// Handler exposes the order placement endpoint.
type Handler struct {
	Svc *Service
}

// Create places an order from the user's persisted cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	out, err := h.Svc.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case common.IsAppError(err):
		common.RenderError(w, err)
	case errors.Is(err, promo.ErrRuleNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "coupon code not found", nil)
	case errors.Is(err, promo.ErrNotEligible),
		errors.Is(err, promo.ErrRuleInactive),
		errors.Is(err, promo.ErrRuleExpired),
		errors.Is(err, promo.ErrUsageLimitReached),
		errors.Is(err, promo.ErrPerUserLimitReached),
		errors.Is(err, promo.ErrMinimumSpendUnmet):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeNotEligible, err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout failed", nil)
	}
}
