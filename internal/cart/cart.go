package cart

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// Line is a single cart entry keyed by (product, variant).
type Line struct {
	ProductID  string        `json:"productId"`
	VariantKey string        `json:"variantKey"`
	Qty        int           `json:"qty"`
	UnitPrice  pricing.Money `json:"unitPrice"`
}

// Key returns the merge key for the line.
func (l Line) Key() string {
	return l.ProductID + "\x00" + l.VariantKey
}

// Subtotal returns qty × unit price.
func (l Line) Subtotal() pricing.Money {
	return pricing.Money(l.Qty) * l.UnitPrice
}

// Cart holds the ordered set of lines belonging to a user or guest session.
type Cart struct {
	UserID    string    `json:"userId"`
	Lines     []Line    `json:"lines"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subtotal sums the line subtotals.
func (c Cart) Subtotal() pricing.Money {
	var total pricing.Money
	for _, l := range c.Lines {
		total += l.Subtotal()
	}
	return total
}

// TotalQty sums line quantities.
func (c Cart) TotalQty() int {
	var total int
	for _, l := range c.Lines {
		total += l.Qty
	}
	return total
}

// Merge combines incoming lines into the existing ones. Lines sharing a
// (product, variant) key add their quantities; new keys are appended, so
// relative first-appearance order is preserved. Pure: inputs are not mutated.
func Merge(existing, incoming []Line) []Line {
	merged := make([]Line, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, l := range existing {
		if i, ok := index[l.Key()]; ok {
			merged[i].Qty += l.Qty
			continue
		}
		index[l.Key()] = len(merged)
		merged = append(merged, l)
	}
	for _, l := range incoming {
		if i, ok := index[l.Key()]; ok {
			merged[i].Qty += l.Qty
			continue
		}
		index[l.Key()] = len(merged)
		merged = append(merged, l)
	}
	return merged
}

// Variant is a purchasable option of a product.
type Variant struct {
	Key       string
	Label     string
	Price     pricing.Money
	Stock     int
	Available bool
}

// ProductSnapshot is the catalog's read-only view of a product at
// reconciliation time.
type ProductSnapshot struct {
	ID        string
	Name      string
	Category  string
	Available bool
	SoldOut   bool
	Variants  []Variant
}

// Variant looks up a variant by key.
func (p ProductSnapshot) Variant(key string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}

// Catalog supplies live product data for reconciliation.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (ProductSnapshot, error)
	GetProductsByCategory(ctx context.Context, category string) ([]ProductSnapshot, error)
}

// ErrProductNotFound is returned by Catalog implementations for unknown ids.
var ErrProductNotFound = errors.New("product not found")

// Store persists carts keyed by user id.
type Store interface {
	LoadCart(ctx context.Context, userID string) (Cart, error)
	SaveCart(ctx context.Context, userID string, c Cart) error
}
