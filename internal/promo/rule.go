package promo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

var (
	// ErrRuleNotFound is returned when no rule matches the requested code.
	ErrRuleNotFound = errors.New("promotion rule not found")
	// ErrNotEligible is returned when the rule cannot be applied to the provided cart.
	ErrNotEligible = errors.New("promotion not eligible")
	// ErrUsageLimitReached indicates the rule has exhausted its global usage quota.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrPerUserLimitReached indicates the caller has exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("promotion per-user usage limit reached")
	// ErrRuleInactive is returned when applying a rule outside its active window.
	ErrRuleInactive = errors.New("promotion not active")
	// ErrRuleExpired is returned when the rule's validity window has passed.
	ErrRuleExpired = errors.New("promotion expired")
	// ErrMinimumSpendUnmet indicates the eligible amount did not meet the rule requirement.
	ErrMinimumSpendUnmet = errors.New("promotion minimum spend not met")
	// ErrDuplicateCode is returned when creating a rule whose code already exists.
	ErrDuplicateCode = errors.New("promotion code already exists")
)

// Kind enumerates the closed set of discount behaviours. Evaluation switches
// exhaustively over these values, so adding a kind requires touching the
// evaluator too.
type Kind string

const (
	KindPercentage       Kind = "percentage"
	KindFlatAmount       Kind = "flat"
	KindBuyXGetY         Kind = "buy_x_get_y"
	KindCategoryDiscount Kind = "category_discount"
	KindFreeShipping     Kind = "free_shipping"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.TrimSpace(s)) {
	case KindPercentage, KindFlatAmount, KindBuyXGetY, KindCategoryDiscount, KindFreeShipping:
		return Kind(strings.TrimSpace(s)), nil
	default:
		return "", fmt.Errorf("invalid discount kind %q", s)
	}
}

// Rule captures the runtime constraints of a promotion, coupon or auto-apply
// offer alike. A rule with AutoApply set activates without a code once its
// scope matches the cart.
type Rule struct {
	ID          uuid.UUID     `json:"id"`
	Code        string        `json:"code"`
	Kind        Kind          `json:"kind"`
	Description string        `json:"description"`
	Percent     int           `json:"percent,omitempty"`
	Amount      pricing.Money `json:"amount,omitempty"`
	BuyQty      int           `json:"buyQty,omitempty"`
	GetQty      int           `json:"getQty,omitempty"`
	MinAmount   pricing.Money `json:"minAmount"`
	MaxDiscount pricing.Money `json:"maxDiscount,omitempty"`

	ProductIDs []string `json:"productIds,omitempty"`
	Categories []string `json:"categories,omitempty"`

	Stackable bool `json:"stackable"`
	AutoApply bool `json:"autoApply"`
	Priority  int  `json:"priority"`

	UsageLimit   int `json:"usageLimit,omitempty"`
	UsedCount    int `json:"usedCount"`
	PerUserLimit int `json:"perUserLimit,omitempty"`

	Active    bool       `json:"active"`
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	BadgeText  string `json:"badgeText,omitempty"`
	BadgeColor string `json:"badgeColor,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Scoped reports whether the rule targets a subset of the catalog.
func (r Rule) Scoped() bool {
	return len(r.ProductIDs) > 0 || len(r.Categories) > 0
}

// CheckShape validates the static invariants of a rule definition.
func (r Rule) CheckShape() error {
	switch r.Kind {
	case KindPercentage, KindCategoryDiscount:
		if r.Percent < 1 || r.Percent > 100 {
			return fmt.Errorf("percent must be within [1,100], got %d", r.Percent)
		}
	case KindFlatAmount:
		if r.Amount <= 0 {
			return errors.New("flat amount must be positive")
		}
	case KindBuyXGetY:
		if r.BuyQty < 1 {
			return errors.New("buy quantity must be at least 1")
		}
		if r.GetQty < 0 {
			return errors.New("get quantity must not be negative")
		}
	case KindFreeShipping:
	default:
		return fmt.Errorf("invalid discount kind %q", r.Kind)
	}
	if r.ValidFrom != nil && r.ValidTo != nil && !r.ValidTo.After(*r.ValidFrom) {
		return errors.New("validity window must end after it starts")
	}
	if r.MaxDiscount < 0 || r.MinAmount < 0 {
		return errors.New("amounts must not be negative")
	}
	return nil
}

// Validate applies the shared runtime gates: active flag, validity window and
// the global usage quota. Per-user quota is checked by the caller because it
// needs a usage lookup.
func (r Rule) Validate(now time.Time) error {
	if !r.Active {
		return ErrRuleInactive
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrRuleInactive
	}
	if r.ValidTo != nil && !now.Before(*r.ValidTo) {
		return ErrRuleExpired
	}
	if r.UsageLimit > 0 && r.UsedCount >= r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// NormalizeCode uppercases and trims a coupon code. Lookups are
// case-insensitive, so the canonical stored form is uppercase.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
