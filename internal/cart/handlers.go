package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-mithaas/internal/common"
)

// Handler exposes the cart synchronisation endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type linePayload struct {
	ProductID  string `json:"productId" validate:"required"`
	VariantKey string `json:"variantKey" validate:"required"`
	Qty        int    `json:"qty" validate:"required,gt=0"`
	UnitPrice  int64  `json:"unitPrice" validate:"gte=0"`
}

type syncRequest struct {
	UserID string        `json:"userId" validate:"required"`
	Lines  []linePayload `json:"lines" validate:"dive"`
}

func (h *Handler) decodeSync(r *http.Request) (syncRequest, error) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return syncRequest{}, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			return syncRequest{}, err
		}
	}
	return req, nil
}

func toLines(payload []linePayload) []Line {
	lines := make([]Line, 0, len(payload))
	for _, p := range payload {
		lines = append(lines, Line{
			ProductID:  p.ProductID,
			VariantKey: p.VariantKey,
			Qty:        p.Qty,
			UnitPrice:  p.UnitPrice,
		})
	}
	return lines
}

// Sync merges locally-held lines into the persisted cart.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeSync(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	result, err := h.Svc.Sync(r.Context(), req.UserID, toLines(req.Lines))
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.renderResult(w, result)
}

// MergeGuest folds a guest cart into the user's cart after login.
func (h *Handler) MergeGuest(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeSync(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	result, err := h.Svc.MergeGuest(r.Context(), req.UserID, toLines(req.Lines))
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.renderResult(w, result)
}

// ValidateCart reconciles the submitted lines without persisting.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	var payload []linePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	result, err := h.Svc.Validate(r.Context(), toLines(payload))
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.renderResult(w, result)
}

// Summary returns the persisted cart with totals.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "userId is required", nil)
		return
	}
	c, err := h.Svc.Summary(r.Context(), userID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"lines":       c.Lines,
			"totalQty":    c.TotalQty(),
			"totalAmount": c.Subtotal(),
			"updatedAt":   c.UpdatedAt,
		},
	})
}

// Cleanup revalidates the persisted cart, dropping stale lines.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "userId is required", nil)
		return
	}
	result, err := h.Svc.Cleanup(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.renderResult(w, result)
}

func (h *Handler) renderResult(w http.ResponseWriter, result ReconcileResult) {
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"lines":       result.Lines,
			"corrections": result.Corrections,
			"dropped":     result.Dropped,
			"warnings":    result.Warnings(),
			"totalAmount": result.Subtotal(),
		},
	})
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "cart not found", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart operation failed", nil)
	}
}
