package promo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

type fakeRuleSource struct {
	rules []Rule
}

func (f *fakeRuleSource) GetByCode(_ context.Context, code string) (Rule, error) {
	for _, r := range f.rules {
		if strings.EqualFold(r.Code, code) {
			return r, nil
		}
	}
	return Rule{}, ErrRuleNotFound
}

func (f *fakeRuleSource) ListAutoApply(_ context.Context, now time.Time) ([]Rule, error) {
	var out []Rule
	for _, r := range f.rules {
		if r.AutoApply && r.Validate(now) == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeUsageSource struct {
	counts     map[string]int
	orders     map[string]bool
	records    []UsageRecord
	increments int
	limitHit   bool
}

func newFakeUsage() *fakeUsageSource {
	return &fakeUsageSource{counts: map[string]int{}, orders: map[string]bool{}}
}

func (f *fakeUsageSource) CountUsage(_ context.Context, ruleID, userID string) (int, error) {
	return f.counts[ruleID+"/"+userID], nil
}

func (f *fakeUsageSource) UsageExists(_ context.Context, ruleID, orderID string) (bool, error) {
	return f.orders[ruleID+"/"+orderID], nil
}

func (f *fakeUsageSource) RecordUsage(_ context.Context, rec UsageRecord) error {
	f.records = append(f.records, rec)
	f.orders[rec.RuleID+"/"+rec.OrderID] = true
	return nil
}

func (f *fakeUsageSource) TryIncrementUsedCount(_ context.Context, _ string) (bool, error) {
	if f.limitHit {
		return false, nil
	}
	f.increments++
	return true, nil
}

func newRule(code string, kind Kind) Rule {
	return Rule{ID: uuid.New(), Code: code, Kind: kind, Active: true}
}

func newOrchestrator(rules ...Rule) (*Orchestrator, *fakeUsageSource) {
	usage := newFakeUsage()
	return &Orchestrator{
		Rules:  &fakeRuleSource{rules: rules},
		Usage:  usage,
		Logger: zerolog.Nop(),
	}, usage
}

func TestQuoteUnknownCouponFailsWhole(t *testing.T) {
	o, _ := newOrchestrator()
	_, err := o.Quote(context.Background(), []Line{{ProductID: "a", Qty: 1, UnitPrice: 100}}, 100, "SAVE20", "")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected rule-not-found, got %v", err)
	}
}

func TestQuoteCouponCaseInsensitive(t *testing.T) {
	r := newRule("SAVE10", KindPercentage)
	r.Percent = 10
	o, _ := newOrchestrator(r)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "save10", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Discount != 100 {
		t.Fatalf("expected 100, got %d", quote.Discount)
	}
}

func TestQuoteIneligibleCouponAborts(t *testing.T) {
	r := newRule("BIGSPEND", KindPercentage)
	r.Percent = 10
	r.MinAmount = 10_000
	o, _ := newOrchestrator(r)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	_, err := o.Quote(context.Background(), lines, 1000, "BIGSPEND", "")
	if !errors.Is(err, ErrMinimumSpendUnmet) {
		t.Fatalf("expected minimum spend error, got %v", err)
	}
}

func TestQuoteExpiredCouponAborts(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	r := newRule("OLD", KindPercentage)
	r.Percent = 10
	r.ValidTo = &past
	o, _ := newOrchestrator(r)
	_, err := o.Quote(context.Background(), []Line{{ProductID: "a", Qty: 1, UnitPrice: 100}}, 100, "OLD", "")
	if !errors.Is(err, ErrRuleExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestQuotePerUserLimit(t *testing.T) {
	r := newRule("ONCE", KindPercentage)
	r.Percent = 10
	r.PerUserLimit = 1
	o, usage := newOrchestrator(r)
	usage.counts[r.ID.String()+"/u1"] = 1

	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	if _, err := o.Quote(context.Background(), lines, 1000, "ONCE", "u1"); !errors.Is(err, ErrPerUserLimitReached) {
		t.Fatalf("expected per-user limit, got %v", err)
	}
	if _, err := o.Quote(context.Background(), lines, 1000, "ONCE", "u2"); err != nil {
		t.Fatalf("fresh user should pass, got %v", err)
	}
}

func TestQuoteNegativePerUserLimitIsUnlimited(t *testing.T) {
	r := newRule("LOYAL", KindPercentage)
	r.Percent = 10
	r.PerUserLimit = -1
	o, usage := newOrchestrator(r)
	o.DefaultPerUserLimit = 1
	usage.counts[r.ID.String()+"/u1"] = 5

	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "LOYAL", "u1")
	if err != nil {
		t.Fatalf("unlimited rule should apply, got %v", err)
	}
	if quote.Discount != 100 {
		t.Fatalf("expected 100, got %d", quote.Discount)
	}
}

func TestQuoteZeroPerUserLimitInheritsDefault(t *testing.T) {
	r := newRule("ONCEDEF", KindPercentage)
	r.Percent = 10
	o, usage := newOrchestrator(r)
	o.DefaultPerUserLimit = 1
	usage.counts[r.ID.String()+"/u1"] = 1

	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	if _, err := o.Quote(context.Background(), lines, 1000, "ONCEDEF", "u1"); !errors.Is(err, ErrPerUserLimitReached) {
		t.Fatalf("expected per-user limit, got %v", err)
	}
}

func TestQuoteStackingOverlapSkipsNonStackable(t *testing.T) {
	flat := newRule("", KindFlatAmount)
	flat.Amount = 50
	flat.Stackable = true
	flat.AutoApply = true
	flat.Priority = 10

	pct := newRule("", KindPercentage)
	pct.Percent = 20
	pct.Stackable = false
	pct.AutoApply = true
	pct.Priority = 5

	o, _ := newOrchestrator(flat, pct)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quote.Applied) != 1 || quote.Applied[0].Kind != KindFlatAmount {
		t.Fatalf("expected only the priority-10 rule, got %+v", quote.Applied)
	}
	if quote.Discount != 50 {
		t.Fatalf("expected 50, got %d", quote.Discount)
	}
}

func TestQuoteStackingDisjointScopesBothApply(t *testing.T) {
	flat := newRule("", KindFlatAmount)
	flat.Amount = 50
	flat.Stackable = true
	flat.AutoApply = true
	flat.Priority = 10
	flat.ProductIDs = []string{"a"}

	pct := newRule("", KindPercentage)
	pct.Percent = 20
	pct.Stackable = false
	pct.AutoApply = true
	pct.Priority = 5
	pct.ProductIDs = []string{"b"}

	o, _ := newOrchestrator(flat, pct)
	lines := []Line{
		{ProductID: "a", Qty: 1, UnitPrice: 1000},
		{ProductID: "b", Qty: 1, UnitPrice: 500},
	}
	quote, err := o.Quote(context.Background(), lines, 1500, "", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quote.Applied) != 2 {
		t.Fatalf("expected both rules, got %+v", quote.Applied)
	}
	if quote.Discount != 150 {
		t.Fatalf("expected 50 + 100, got %d", quote.Discount)
	}
}

func TestQuotePriorityOrderWithCreationTieBreak(t *testing.T) {
	first := newRule("", KindFlatAmount)
	first.Amount = 30
	first.AutoApply = true
	first.Priority = 5
	first.Stackable = false

	second := newRule("", KindFlatAmount)
	second.Amount = 70
	second.AutoApply = true
	second.Priority = 5
	second.Stackable = false

	o, _ := newOrchestrator(first, second)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// Equal priority: creation order wins, the later rule overlaps and skips.
	if len(quote.Applied) != 1 || quote.Applied[0].RuleID != first.ID.String() {
		t.Fatalf("expected the first-created rule only, got %+v", quote.Applied)
	}
}

func TestQuoteClampsAtZeroPayable(t *testing.T) {
	a := newRule("", KindFlatAmount)
	a.Amount = 900
	a.AutoApply = true
	a.Stackable = true
	a.ProductIDs = []string{"a"}

	b := newRule("", KindFlatAmount)
	b.Amount = 400
	b.AutoApply = true
	b.Stackable = true
	b.ProductIDs = []string{"b"}

	o, _ := newOrchestrator(a, b)
	lines := []Line{
		{ProductID: "a", Qty: 1, UnitPrice: 900},
		{ProductID: "b", Qty: 1, UnitPrice: 300},
	}
	quote, err := o.Quote(context.Background(), lines, 1200, "", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Discount != 1200 {
		t.Fatalf("discount must clamp to order amount, got %d", quote.Discount)
	}
}

func TestQuoteScopedAutoOfferSilentlySkipped(t *testing.T) {
	offer := newRule("", KindCategoryDiscount)
	offer.Percent = 15
	offer.Categories = []string{"namkeen"}
	offer.AutoApply = true

	o, _ := newOrchestrator(offer)
	lines := []Line{{ProductID: "a", Category: "laddu", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "", "")
	if err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
	if len(quote.Applied) != 0 || quote.Discount != 0 {
		t.Fatalf("expected empty quote, got %+v", quote)
	}
}

func TestQuoteFreeShippingToken(t *testing.T) {
	ship := newRule("FREESHIP", KindFreeShipping)
	ship.MinAmount = 500
	o, _ := newOrchestrator(ship)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 800}}
	quote, err := o.Quote(context.Background(), lines, 800, "FREESHIP", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.FreeDelivery || quote.Discount != 0 {
		t.Fatalf("expected delivery waiver without line discount, got %+v", quote)
	}
}

func TestQuoteIsPureRead(t *testing.T) {
	r := newRule("SAVE10", KindPercentage)
	r.Percent = 10
	o, usage := newOrchestrator(r)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	if _, err := o.Quote(context.Background(), lines, 1000, "SAVE10", "u1"); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if usage.increments != 0 || len(usage.records) != 0 {
		t.Fatalf("quote must not burn usage: %+v", usage)
	}
}

func TestQuoteEvaluatesOriginalPrices(t *testing.T) {
	a := newRule("", KindPercentage)
	a.Percent = 50
	a.AutoApply = true
	a.Stackable = true
	a.Priority = 10

	b := newRule("", KindPercentage)
	b.Percent = 10
	b.AutoApply = true
	b.Stackable = true
	b.Priority = 5

	o, _ := newOrchestrator(a, b)
	lines := []Line{{ProductID: "a", Qty: 1, UnitPrice: 1000}}
	quote, err := o.Quote(context.Background(), lines, 1000, "", "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 500 + 100, the second rule sees the original 1000 base.
	if quote.Discount != 600 {
		t.Fatalf("expected 600, got %d", quote.Discount)
	}
}

func TestSettleRecordsOnce(t *testing.T) {
	usage := newFakeUsage()
	svc := &Service{Usage: usage, Logger: zerolog.Nop()}
	applied := []AppliedRule{{RuleID: uuid.NewString(), Discount: pricing.Money(500)}}

	if err := svc.Settle(context.Background(), applied, "order-1", "u1"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := svc.Settle(context.Background(), applied, "order-1", "u1"); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if len(usage.records) != 1 || usage.increments != 1 {
		t.Fatalf("settle must be idempotent per order, got %d records %d increments", len(usage.records), usage.increments)
	}
}

func TestSettleBoundedIncrementFailure(t *testing.T) {
	usage := newFakeUsage()
	usage.limitHit = true
	svc := &Service{Usage: usage, Logger: zerolog.Nop()}
	applied := []AppliedRule{{RuleID: uuid.NewString(), Discount: 500}}

	err := svc.Settle(context.Background(), applied, "order-1", "u1")
	if !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected usage limit error, got %v", err)
	}
	if len(usage.records) != 0 {
		t.Fatalf("no usage record should be written after a failed increment")
	}
}
