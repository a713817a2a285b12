package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-mithaas/internal/common"
	"github.com/noah-isme/backend-mithaas/internal/geo"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// Handler exposes the delivery quoting endpoints.
type Handler struct {
	Calc     *Calculator
	Resolver *geo.Resolver
	Validate *validator.Validate

	// StoreName and related fields feed the policy-info endpoint.
	StoreName string
	Currency  string
}

type quoteRequest struct {
	Pincode     string `json:"pincode"`
	Address     string `json:"address"`
	OrderAmount int64  `json:"orderAmount" validate:"gte=0"`
	Mode        string `json:"mode" validate:"omitempty,oneof=delivery pickup"`
	Recompute   bool   `json:"recompute"`
}

// Quote resolves the destination and returns the delivery quote, including a
// ±20% cost band for frontend pre-quotes.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
			return
		}
	}
	mode := Mode(req.Mode)
	if mode == "" {
		mode = ModeDelivery
	}
	if strings.TrimSpace(req.Pincode) == "" && strings.TrimSpace(req.Address) == "" && mode != ModePickup {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "pincode or address is required", nil)
		return
	}

	dest, source := h.Resolver.Resolve(r.Context(), req.Pincode, req.Address)
	quote, err := h.Calc.Quote(r.Context(), dest, pricing.Money(req.OrderAmount), mode, req.Recompute)
	if err != nil {
		if errors.Is(err, ErrOutOfServiceArea) {
			common.JSONError(w, http.StatusUnprocessableEntity, common.CodeOutOfServiceArea,
				"destination is outside the delivery area", map[string]any{
					"maxDistanceKm": h.Calc.Config.MaxDistanceKm,
				})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to quote delivery", nil)
		return
	}
	minCost, maxCost := h.Calc.EstimateRange(quote.DistanceKm)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"quote":          quote,
			"estimatedRange": map[string]any{"min": minCost, "max": maxCost},
			"destination":    dest,
			"geocodeSource":  source,
		},
	})
}

// PolicyInfo publishes the delivery schedule so clients can render thresholds
// without quoting.
func (h *Handler) PolicyInfo(w http.ResponseWriter, r *http.Request) {
	cfg := h.Calc.Config
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"storeName":      h.StoreName,
			"storeLocation":  h.Calc.Origin,
			"currency":       h.Currency,
			"baseCharge":     cfg.BaseCharge,
			"baseDistanceKm": cfg.BaseDistanceKm,
			"perKmRate":      cfg.PerKmRate,
			"freeThreshold":  cfg.FreeThreshold,
			"freeRadiusKm":   cfg.FreeRadiusKm,
			"maxDistanceKm":  cfg.MaxDistanceKm,
			"zones": []map[string]any{
				{"zone": "city_center", "maxKm": 5.0, "eta": "2-4 hours"},
				{"zone": "city_extended", "maxKm": 10.0, "eta": "4-6 hours"},
				{"zone": "nearby_suburbs", "maxKm": 20.0, "eta": "6-8 hours"},
				{"zone": "extended_area", "maxKm": 35.0, "eta": "1-2 days"},
				{"zone": "far_area", "maxKm": cfg.MaxDistanceKm, "eta": "2-3 days"},
			},
		},
	})
}
