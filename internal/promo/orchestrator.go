package promo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// RuleSource supplies promotion rules for evaluation.
type RuleSource interface {
	// GetByCode resolves a rule by coupon code, case-insensitively.
	// Returns ErrRuleNotFound for unknown codes.
	GetByCode(ctx context.Context, code string) (Rule, error)
	// ListAutoApply returns active auto-apply rules ordered by creation time.
	ListAutoApply(ctx context.Context, now time.Time) ([]Rule, error)
}

// UsageSource tracks redemptions for usage-cap enforcement.
type UsageSource interface {
	CountUsage(ctx context.Context, ruleID string, userID string) (int, error)
	UsageExists(ctx context.Context, ruleID string, orderID string) (bool, error)
	RecordUsage(ctx context.Context, rec UsageRecord) error
	// TryIncrementUsedCount bumps the global counter only while it is still
	// below the usage limit, returning whether the increment happened.
	TryIncrementUsedCount(ctx context.Context, ruleID string) (bool, error)
}

// UsageRecord is one redemption of a rule, appended at order commit.
type UsageRecord struct {
	RuleID  string
	UserID  string
	OrderID string
	Amount  pricing.Money
	UsedAt  time.Time
}

// AppliedRule is one rule's contribution to a quote.
type AppliedRule struct {
	RuleID       string        `json:"ruleId"`
	Code         string        `json:"code,omitempty"`
	Kind         Kind          `json:"kind"`
	Description  string        `json:"description,omitempty"`
	Discount     pricing.Money `json:"discount"`
	FreeDelivery bool          `json:"freeDelivery,omitempty"`
}

// Quote aggregates the discounts of every applied rule. Quoting never writes
// usage; redemption is settled at order commit.
type Quote struct {
	Applied      []AppliedRule `json:"applied"`
	Discount     pricing.Money `json:"discount"`
	FreeDelivery bool          `json:"freeDelivery"`
}

// Orchestrator selects candidate rules, enforces stacking and priority and
// aggregates discounts. All evaluation runs against the original line prices.
type Orchestrator struct {
	Rules               RuleSource
	Usage               UsageSource
	DefaultPerUserLimit int
	Now                 func() time.Time
	Logger              zerolog.Logger
}

// Quote computes the promotion result for the cart. An explicit coupon that
// cannot be applied fails the whole request; auto-apply rules that do not fit
// are skipped silently.
func (o *Orchestrator) Quote(ctx context.Context, lines []Line, orderAmount pricing.Money, couponCode string, userID string) (Quote, error) {
	if o == nil || o.Rules == nil {
		return Quote{}, errors.New("promotion orchestrator not configured")
	}
	now := o.now()

	var candidates []Rule
	explicit := map[string]bool{}
	if code := NormalizeCode(couponCode); code != "" {
		rule, err := o.Rules.GetByCode(ctx, code)
		if err != nil {
			countEval("coupon", "not_found")
			return Quote{}, fmt.Errorf("coupon %s: %w", code, err)
		}
		if err := o.checkGates(ctx, rule, userID, now); err != nil {
			countEval("coupon", "rejected")
			return Quote{}, fmt.Errorf("coupon %s: %w", code, err)
		}
		explicit[rule.ID.String()] = true
		candidates = append(candidates, rule)
	}

	autos, err := o.Rules.ListAutoApply(ctx, now)
	if err != nil {
		return Quote{}, fmt.Errorf("list auto-apply rules: %w", err)
	}
	for _, rule := range autos {
		if explicit[rule.ID.String()] {
			continue
		}
		candidates = append(candidates, rule)
	}

	// Priority descending; ListAutoApply orders by creation time and the sort
	// is stable, so equal priorities keep creation order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var quote Quote
	claimed := map[string]bool{}
	for _, rule := range candidates {
		isCoupon := explicit[rule.ID.String()]
		if !isCoupon {
			if err := o.checkGates(ctx, rule, userID, now); err != nil {
				countEval(string(rule.Kind), "skipped")
				continue
			}
		}
		result, err := Evaluate(rule, lines, orderAmount)
		if err != nil {
			if isCoupon {
				countEval("coupon", "rejected")
				return Quote{}, fmt.Errorf("coupon %s: %w", rule.Code, err)
			}
			countEval(string(rule.Kind), "skipped")
			continue
		}
		if !rule.Stackable && overlaps(claimed, result.LineKeys) {
			countEval(string(rule.Kind), "stack_skipped")
			o.Logger.Debug().Str("rule", rule.ID.String()).Msg("non-stackable rule overlaps applied scope, skipped")
			continue
		}
		for _, k := range result.LineKeys {
			claimed[k] = true
		}
		quote.Applied = append(quote.Applied, AppliedRule{
			RuleID:       rule.ID.String(),
			Code:         rule.Code,
			Kind:         rule.Kind,
			Description:  rule.Description,
			Discount:     result.Discount,
			FreeDelivery: result.FreeDelivery,
		})
		quote.Discount += result.Discount
		quote.FreeDelivery = quote.FreeDelivery || result.FreeDelivery
		countEval(string(rule.Kind), "applied")
	}

	if quote.Discount > orderAmount {
		quote.Discount = orderAmount
	}
	return quote, nil
}

// checkGates runs the shared runtime gates plus the per-user usage lookup.
func (o *Orchestrator) checkGates(ctx context.Context, rule Rule, userID string, now time.Time) error {
	if err := rule.Validate(now); err != nil {
		return err
	}
	// A negative per-user limit means unlimited; zero inherits the default.
	limit := rule.PerUserLimit
	if limit == 0 {
		limit = o.DefaultPerUserLimit
	}
	if limit <= 0 || userID == "" || o.Usage == nil {
		return nil
	}
	used, err := o.Usage.CountUsage(ctx, rule.ID.String(), userID)
	if err != nil {
		return fmt.Errorf("count usage: %w", err)
	}
	if used >= limit {
		return ErrPerUserLimitReached
	}
	return nil
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func overlaps(claimed map[string]bool, keys []string) bool {
	for _, k := range keys {
		if claimed[k] {
			return true
		}
	}
	return false
}

func countEval(kind, outcome string) {
	if obs.PromoEvaluateTotal != nil {
		obs.PromoEvaluateTotal.WithLabelValues(kind, outcome).Inc()
	}
}
