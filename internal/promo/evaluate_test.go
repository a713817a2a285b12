package promo

import (
	"errors"
	"testing"
	"time"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

func TestEvaluatePercentageWithCap(t *testing.T) {
	rule := Rule{Kind: KindPercentage, Percent: 10, MaxDiscount: 50}
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	res, err := Evaluate(rule, lines, 1000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 50 {
		t.Fatalf("expected cap to win, got %d", res.Discount)
	}
}

func TestEvaluatePercentageUncapped(t *testing.T) {
	rule := Rule{Kind: KindPercentage, Percent: 25}
	lines := []Line{{ProductID: "a", Qty: 2, UnitPrice: 200}}
	res, err := Evaluate(rule, lines, 400)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 100 {
		t.Fatalf("expected 100, got %d", res.Discount)
	}
}

func TestEvaluateMinimumSpendGate(t *testing.T) {
	rule := Rule{Kind: KindPercentage, Percent: 10, MinAmount: 5000}
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	if _, err := Evaluate(rule, lines, 1000); !errors.Is(err, ErrMinimumSpendUnmet) {
		t.Fatalf("expected minimum spend error, got %v", err)
	}
}

func TestEvaluateFlatClampsToBase(t *testing.T) {
	rule := Rule{Kind: KindFlatAmount, Amount: 5000}
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1200}}
	res, err := Evaluate(rule, lines, 1200)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 1200 {
		t.Fatalf("flat discount should clamp to eligible base, got %d", res.Discount)
	}
}

func TestEvaluateBuyXGetYCheapestUnitFree(t *testing.T) {
	rule := Rule{Kind: KindBuyXGetY, BuyQty: 2, GetQty: 1}
	lines := []Line{
		{ProductID: "a", Qty: 1, UnitPrice: 100},
		{ProductID: "b", Qty: 1, UnitPrice: 150},
		{ProductID: "c", Qty: 1, UnitPrice: 200},
	}
	res, err := Evaluate(rule, lines, 450)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 100 {
		t.Fatalf("expected cheapest unit free (100), got %d", res.Discount)
	}
	if res.EligibleBase != 450 {
		t.Fatalf("expected eligible base 450, got %d", res.EligibleBase)
	}
}

func TestEvaluateBuyXGetYMultipleSets(t *testing.T) {
	rule := Rule{Kind: KindBuyXGetY, BuyQty: 2, GetQty: 1}
	lines := []Line{
		{ProductID: "a", Qty: 3, UnitPrice: 100},
		{ProductID: "b", Qty: 1, UnitPrice: 300},
	}
	// 4 eligible units, 2 sets, 2 free units at 100 each.
	res, err := Evaluate(rule, lines, 600)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 200 {
		t.Fatalf("expected 200, got %d", res.Discount)
	}
}

func TestEvaluateBuyXGetYBelowThreshold(t *testing.T) {
	rule := Rule{Kind: KindBuyXGetY, BuyQty: 3, GetQty: 1}
	lines := []Line{{ProductID: "a", Qty: 2, UnitPrice: 100}}
	if _, err := Evaluate(rule, lines, 200); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
}

func TestEvaluateCategoryScopedBase(t *testing.T) {
	rule := Rule{Kind: KindCategoryDiscount, Percent: 20, Categories: []string{"laddu"}}
	lines := []Line{
		{ProductID: "a", Category: "laddu", Qty: 2, UnitPrice: 250},
		{ProductID: "b", Category: "barfi", Qty: 1, UnitPrice: 900},
	}
	res, err := Evaluate(rule, lines, 1400)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 100 {
		t.Fatalf("expected 20%% of the scoped 500, got %d", res.Discount)
	}
}

func TestEvaluateCategoryIgnoresProductScope(t *testing.T) {
	// A stray product-ID scope must not widen a category rule past its
	// categories.
	rule := Rule{Kind: KindCategoryDiscount, Percent: 20, Categories: []string{"laddu"}, ProductIDs: []string{"b"}}
	lines := []Line{
		{ProductID: "a", Category: "laddu", Qty: 2, UnitPrice: 250},
		{ProductID: "b", Category: "barfi", Qty: 1, UnitPrice: 900},
	}
	res, err := Evaluate(rule, lines, 1400)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Discount != 100 {
		t.Fatalf("expected 20%% of the category-scoped 500, got %d", res.Discount)
	}
	if len(res.LineKeys) != 1 || res.LineKeys[0] != "a" {
		t.Fatalf("expected only the category line claimed, got %v", res.LineKeys)
	}
}

func TestEvaluateCategoryNoMatch(t *testing.T) {
	rule := Rule{Kind: KindCategoryDiscount, Percent: 20, Categories: []string{"laddu"}}
	lines := []Line{{ProductID: "b", Category: "barfi", Qty: 1, UnitPrice: 900}}
	if _, err := Evaluate(rule, lines, 900); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
}

func TestEvaluateProductScope(t *testing.T) {
	rule := Rule{Kind: KindPercentage, Percent: 10, ProductIDs: []string{"a"}}
	lines := []Line{
		{ProductID: "a", Qty: 1, UnitPrice: 500},
		{ProductID: "b", Qty: 1, UnitPrice: 700},
	}
	res, err := Evaluate(rule, lines, 1200)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.EligibleBase != 500 || res.Discount != 50 {
		t.Fatalf("expected scoped base 500 / discount 50, got %d / %d", res.EligibleBase, res.Discount)
	}
}

func TestEvaluateFreeShipping(t *testing.T) {
	rule := Rule{Kind: KindFreeShipping, MinAmount: 500}

	res, err := Evaluate(rule, nil, 600)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.FreeDelivery || res.Discount != 0 {
		t.Fatalf("expected delivery waiver with zero line discount, got %+v", res)
	}

	if _, err := Evaluate(rule, nil, 400); !errors.Is(err, ErrMinimumSpendUnmet) {
		t.Fatalf("expected minimum spend error, got %v", err)
	}
}

func TestRuleValidateGates(t *testing.T) {
	now := mustTime(t, "2026-08-30T12:00:00Z")
	past := mustTime(t, "2026-08-01T00:00:00Z")
	future := mustTime(t, "2026-09-01T00:00:00Z")

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"inactive flag", Rule{Active: false}, ErrRuleInactive},
		{"not yet valid", Rule{Active: true, ValidFrom: &future}, ErrRuleInactive},
		{"expired", Rule{Active: true, ValidTo: &past}, ErrRuleExpired},
		{"usage exhausted", Rule{Active: true, UsageLimit: 5, UsedCount: 5}, ErrUsageLimitReached},
		{"ok", Rule{Active: true, ValidFrom: &past, ValidTo: &future, UsageLimit: 5, UsedCount: 4}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate(now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCapDiscountNeverNegative(t *testing.T) {
	rule := Rule{MaxDiscount: 400}
	if got := capDiscount(-5, 1000, rule); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := capDiscount(pricing.Money(500), 300, rule); got != 300 {
		t.Fatalf("cap then base clamp expected 300, got %d", got)
	}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return parsed
}
