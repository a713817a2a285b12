package promo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-mithaas/internal/common"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// RuleStore persists promotion rule definitions for the admin surface.
type RuleStore interface {
	CreateRule(ctx context.Context, r Rule) (Rule, error)
	UpdateRule(ctx context.Context, r Rule) (Rule, error)
	DeleteRule(ctx context.Context, code string) error
	ListRules(ctx context.Context) ([]Rule, error)
}

// Handler exposes promotion administration and the apply endpoint.
type Handler struct {
	Store        RuleStore
	Orchestrator *Orchestrator
	Validate     *validator.Validate
}

type rulePayload struct {
	Code         string     `json:"code"`
	Kind         string     `json:"kind" validate:"required"`
	Description  string     `json:"description"`
	Percent      int        `json:"percent" validate:"gte=0,lte=100"`
	Amount       int64      `json:"amount" validate:"gte=0"`
	BuyQty       int        `json:"buyQty" validate:"gte=0"`
	GetQty       int        `json:"getQty" validate:"gte=0"`
	MinAmount    int64      `json:"minAmount" validate:"gte=0"`
	MaxDiscount  int64      `json:"maxDiscount" validate:"gte=0"`
	ProductIDs   []string   `json:"productIds"`
	Categories   []string   `json:"categories"`
	Stackable    bool       `json:"stackable"`
	AutoApply    bool       `json:"autoApply"`
	Priority     int        `json:"priority"`
	UsageLimit   int        `json:"usageLimit" validate:"gte=0"`
	PerUserLimit int        `json:"perUserLimit" validate:"gte=0"`
	Active       *bool      `json:"active"`
	ValidFrom    *time.Time `json:"validFrom"`
	ValidTo      *time.Time `json:"validTo"`
	BadgeText    string     `json:"badgeText"`
	BadgeColor   string     `json:"badgeColor"`
}

type applyRequest struct {
	CouponCode  string      `json:"couponCode"`
	UserID      string      `json:"userId"`
	OrderAmount int64       `json:"orderAmount" validate:"gte=0"`
	Lines       []applyLine `json:"lines" validate:"required,dive"`
}

type applyLine struct {
	ProductID string `json:"productId" validate:"required"`
	Category  string `json:"category"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
}

func (h *Handler) decodeRule(r *http.Request) (Rule, error) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return Rule{}, err
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			return Rule{}, err
		}
	}
	kind, err := ParseKind(payload.Kind)
	if err != nil {
		return Rule{}, err
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	rule := Rule{
		Code:         NormalizeCode(payload.Code),
		Kind:         kind,
		Description:  strings.TrimSpace(payload.Description),
		Percent:      payload.Percent,
		Amount:       pricing.Money(payload.Amount),
		BuyQty:       payload.BuyQty,
		GetQty:       payload.GetQty,
		MinAmount:    pricing.Money(payload.MinAmount),
		MaxDiscount:  pricing.Money(payload.MaxDiscount),
		ProductIDs:   trimAll(payload.ProductIDs),
		Categories:   trimAll(payload.Categories),
		Stackable:    payload.Stackable,
		AutoApply:    payload.AutoApply,
		Priority:     payload.Priority,
		UsageLimit:   payload.UsageLimit,
		PerUserLimit: payload.PerUserLimit,
		Active:       active,
		ValidFrom:    payload.ValidFrom,
		ValidTo:      payload.ValidTo,
		BadgeText:    strings.TrimSpace(payload.BadgeText),
		BadgeColor:   strings.TrimSpace(payload.BadgeColor),
	}
	if rule.Code == "" && !rule.AutoApply {
		return Rule{}, errors.New("code is required unless the rule is auto-apply")
	}
	if err := rule.CheckShape(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// Create inserts a new promotion rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	created, err := h.Store.CreateRule(r.Context(), rule)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			common.JSONError(w, http.StatusConflict, common.CodeConflict, "promotion code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to create promotion", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Update replaces the rule identified by code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	code := NormalizeCode(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "code is required", nil)
		return
	}
	rule, err := h.decodeRule(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	rule.Code = code
	updated, err := h.Store.UpdateRule(r.Context(), rule)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "promotion not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to update promotion", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// Delete removes the rule identified by code.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	code := NormalizeCode(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "code is required", nil)
		return
	}
	if err := h.Store.DeleteRule(r.Context(), code); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "promotion not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to delete promotion", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"code": code}})
}

// List returns all promotion rules, badges included, for admin and
// product-card display.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list promotions", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rules})
}

// Apply quotes the promotion outcome for a cart without burning usage.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
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
	lines := make([]Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, Line{
			ProductID: l.ProductID,
			Category:  l.Category,
			Qty:       l.Qty,
			UnitPrice: pricing.Money(l.UnitPrice),
		})
	}
	quote, err := h.Orchestrator.Quote(r.Context(), lines, pricing.Money(req.OrderAmount), req.CouponCode, req.UserID)
	if err != nil {
		h.renderQuoteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

func (h *Handler) renderQuoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "coupon code not found", nil)
	case errors.Is(err, ErrRuleInactive),
		errors.Is(err, ErrRuleExpired),
		errors.Is(err, ErrUsageLimitReached),
		errors.Is(err, ErrPerUserLimitReached),
		errors.Is(err, ErrMinimumSpendUnmet),
		errors.Is(err, ErrNotEligible):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeNotEligible, err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to apply promotion", nil)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
