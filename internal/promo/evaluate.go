package promo

import (
	"fmt"
	"sort"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// Line is a cart line as seen by the evaluator. Prices are the original
// catalog prices; the evaluator never sees another rule's discounted amounts.
type Line struct {
	ProductID string        `json:"productId"`
	Category  string        `json:"category"`
	Qty       int           `json:"qty"`
	UnitPrice pricing.Money `json:"unitPrice"`
}

// Subtotal returns qty × unit price.
func (l Line) Subtotal() pricing.Money {
	return pricing.Money(l.Qty) * l.UnitPrice
}

// Result is the outcome of evaluating a single rule against a cart.
type Result struct {
	Discount     pricing.Money `json:"discount"`
	EligibleBase pricing.Money `json:"eligibleBase"`
	FreeDelivery bool          `json:"freeDelivery"`
	// LineKeys names the (product, orderwide) region the discount touched,
	// used by the orchestrator for stacking-overlap checks.
	LineKeys []string `json:"-"`
}

// Evaluate applies one rule to the cart and order total. A nil error with a
// zero discount never occurs: ineligibility is always reported through one of
// the sentinel errors so callers can distinguish "skip" from "broken rule".
func Evaluate(r Rule, lines []Line, orderAmount pricing.Money) (Result, error) {
	switch r.Kind {
	case KindPercentage:
		return evalPercentage(r, scopedLines(r, lines))
	case KindFlatAmount:
		return evalFlat(r, scopedLines(r, lines))
	case KindBuyXGetY:
		return evalBuyXGetY(r, scopedLines(r, lines))
	case KindCategoryDiscount:
		return evalCategory(r, lines)
	case KindFreeShipping:
		return evalFreeShipping(r, orderAmount)
	default:
		return Result{}, fmt.Errorf("invalid discount kind %q", r.Kind)
	}
}

// scopedLines returns the lines the rule may discount. An unscoped rule
// covers the whole cart.
func scopedLines(r Rule, lines []Line) []Line {
	if !r.Scoped() {
		return lines
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if ruleMatchesLine(r, l) {
			out = append(out, l)
		}
	}
	return out
}

func ruleMatchesLine(r Rule, l Line) bool {
	for _, id := range r.ProductIDs {
		if id == l.ProductID {
			return true
		}
	}
	for _, c := range r.Categories {
		if c == l.Category {
			return true
		}
	}
	return false
}

func eligibleBase(lines []Line) pricing.Money {
	var total pricing.Money
	for _, l := range lines {
		if l.Qty > 0 && l.UnitPrice > 0 {
			total += l.Subtotal()
		}
	}
	return total
}

func lineKeys(lines []Line) []string {
	keys := make([]string, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, l.ProductID)
	}
	return keys
}

// capDiscount clamps the discount to the rule cap and the eligible base.
func capDiscount(discount, base pricing.Money, r Rule) pricing.Money {
	if r.MaxDiscount > 0 && discount > r.MaxDiscount {
		discount = r.MaxDiscount
	}
	if discount > base {
		discount = base
	}
	if discount < 0 {
		return 0
	}
	return discount
}

func evalPercentage(r Rule, scoped []Line) (Result, error) {
	base := eligibleBase(scoped)
	if base <= 0 {
		return Result{}, ErrNotEligible
	}
	if base < r.MinAmount {
		return Result{}, ErrMinimumSpendUnmet
	}
	discount := base * pricing.Money(r.Percent) / 100
	discount = capDiscount(discount, base, r)
	if discount <= 0 {
		return Result{}, ErrNotEligible
	}
	return Result{Discount: discount, EligibleBase: base, LineKeys: lineKeys(scoped)}, nil
}

func evalFlat(r Rule, scoped []Line) (Result, error) {
	base := eligibleBase(scoped)
	if base <= 0 {
		return Result{}, ErrNotEligible
	}
	if base < r.MinAmount {
		return Result{}, ErrMinimumSpendUnmet
	}
	discount := capDiscount(r.Amount, base, r)
	if discount <= 0 {
		return Result{}, ErrNotEligible
	}
	return Result{Discount: discount, EligibleBase: base, LineKeys: lineKeys(scoped)}, nil
}

// evalBuyXGetY zeroes out the cheapest free units across the eligible lines.
// Discounting the cheapest units first keeps the discount size predictable
// when unit prices differ within the scope.
func evalBuyXGetY(r Rule, scoped []Line) (Result, error) {
	base := eligibleBase(scoped)
	if base < r.MinAmount {
		return Result{}, ErrMinimumSpendUnmet
	}
	var eligibleQty int
	for _, l := range scoped {
		if l.Qty > 0 {
			eligibleQty += l.Qty
		}
	}
	if r.BuyQty < 1 || eligibleQty < r.BuyQty {
		return Result{}, ErrNotEligible
	}
	sets := eligibleQty / r.BuyQty
	freeUnits := sets * r.GetQty
	if freeUnits <= 0 {
		return Result{}, ErrNotEligible
	}

	units := make([]pricing.Money, 0, eligibleQty)
	for _, l := range scoped {
		for i := 0; i < l.Qty; i++ {
			units = append(units, l.UnitPrice)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	if freeUnits > len(units) {
		freeUnits = len(units)
	}
	var discount pricing.Money
	for _, price := range units[:freeUnits] {
		discount += price
	}
	discount = capDiscount(discount, base, r)
	if discount <= 0 {
		return Result{}, ErrNotEligible
	}
	return Result{Discount: discount, EligibleBase: base, LineKeys: lineKeys(scoped)}, nil
}

// evalCategory matches on category membership only; a product-ID scope on
// the same rule does not widen the eligible lines.
func evalCategory(r Rule, lines []Line) (Result, error) {
	if len(r.Categories) == 0 {
		return Result{}, ErrNotEligible
	}
	scoped := make([]Line, 0, len(lines))
	for _, l := range lines {
		for _, c := range r.Categories {
			if c == l.Category {
				scoped = append(scoped, l)
				break
			}
		}
	}
	return evalPercentage(r, scoped)
}

func evalFreeShipping(r Rule, orderAmount pricing.Money) (Result, error) {
	if orderAmount < r.MinAmount {
		return Result{}, ErrMinimumSpendUnmet
	}
	return Result{FreeDelivery: true, EligibleBase: orderAmount}, nil
}
