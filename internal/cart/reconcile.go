package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// StockPolicy decides what happens when a line's quantity exceeds stock.
type StockPolicy string

const (
	// StockPolicyDrop removes the whole line (default).
	StockPolicyDrop StockPolicy = "drop"
	// StockPolicyClamp caps the quantity at the available stock.
	StockPolicyClamp StockPolicy = "clamp"
)

// ParseStockPolicy validates a policy string.
func ParseStockPolicy(s string) (StockPolicy, error) {
	switch StockPolicy(s) {
	case StockPolicyDrop, StockPolicyClamp:
		return StockPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown stock policy %q", s)
	}
}

// DropReason explains why a line was removed during reconciliation.
type DropReason string

const (
	ReasonProductNotFound    DropReason = "product not found"
	ReasonProductUnavailable DropReason = "product not available"
	ReasonVariantNotFound    DropReason = "variant not found"
	ReasonInsufficientStock  DropReason = "insufficient stock"
)

// Correction records a line kept after auto-correction.
type Correction struct {
	Line     Line          `json:"line"`
	OldPrice pricing.Money `json:"oldPrice,omitempty"`
	NewPrice pricing.Money `json:"newPrice,omitempty"`
	OldQty   int           `json:"oldQty,omitempty"`
	NewQty   int           `json:"newQty,omitempty"`
	Message  string        `json:"message"`
}

// DroppedLine records a line removed with its reason.
type DroppedLine struct {
	Line   Line       `json:"line"`
	Reason DropReason `json:"reason"`
}

// ReconcileResult separates surviving lines from corrections and drops so
// callers can distinguish kept-with-correction from dropped-with-reason.
type ReconcileResult struct {
	Lines       []Line        `json:"lines"`
	Corrections []Correction  `json:"corrections"`
	Dropped     []DroppedLine `json:"dropped"`
}

// Subtotal sums the surviving lines.
func (r ReconcileResult) Subtotal() pricing.Money {
	var total pricing.Money
	for _, l := range r.Lines {
		total += l.Subtotal()
	}
	return total
}

// Warnings renders human-readable messages for corrections and drops.
func (r ReconcileResult) Warnings() []string {
	out := make([]string, 0, len(r.Corrections)+len(r.Dropped))
	for _, c := range r.Corrections {
		out = append(out, c.Message)
	}
	for _, d := range r.Dropped {
		out = append(out, fmt.Sprintf("%s (%s): %s", d.Line.ProductID, d.Line.VariantKey, d.Reason))
	}
	return out
}

// Reconcile validates every line against live catalog data. Lines with a
// stale price are kept and corrected; lines that no longer resolve to a
// purchasable product are dropped. Surviving lines keep their relative order.
// Reconciling an already-valid cart is a no-op apart from price correction.
func Reconcile(ctx context.Context, lines []Line, catalog Catalog, policy StockPolicy) (ReconcileResult, error) {
	if policy == "" {
		policy = StockPolicyDrop
	}
	result := ReconcileResult{Lines: make([]Line, 0, len(lines))}
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		product, err := catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				result.drop(line, ReasonProductNotFound)
				continue
			}
			return ReconcileResult{}, fmt.Errorf("reconcile %s: %w", line.ProductID, err)
		}
		if !product.Available || product.SoldOut {
			result.drop(line, ReasonProductUnavailable)
			continue
		}
		variant, ok := product.Variant(line.VariantKey)
		if !ok {
			result.drop(line, ReasonVariantNotFound)
			continue
		}
		if !variant.Available || variant.Stock <= 0 {
			result.drop(line, ReasonInsufficientStock)
			continue
		}
		if line.Qty > variant.Stock {
			if policy == StockPolicyDrop {
				result.drop(line, ReasonInsufficientStock)
				continue
			}
			corrected := line
			corrected.Qty = variant.Stock
			result.Corrections = append(result.Corrections, Correction{
				Line:    corrected,
				OldQty:  line.Qty,
				NewQty:  corrected.Qty,
				Message: fmt.Sprintf("Quantity reduced to available stock for %s (%s)", product.Name, line.VariantKey),
			})
			line = corrected
		}
		if line.UnitPrice != variant.Price {
			old := line.UnitPrice
			line.UnitPrice = variant.Price
			result.Corrections = append(result.Corrections, Correction{
				Line:     line,
				OldPrice: old,
				NewPrice: variant.Price,
				Message:  fmt.Sprintf("Price updated for %s (%s)", product.Name, line.VariantKey),
			})
		}
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

func (r *ReconcileResult) drop(line Line, reason DropReason) {
	r.Dropped = append(r.Dropped, DroppedLine{Line: line, Reason: reason})
	if obs.CartReconcileDropTotal != nil {
		obs.CartReconcileDropTotal.WithLabelValues(string(reason)).Inc()
	}
}
