package pricing

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components for an order.
type Summary struct {
	Subtotal Money
	Discount Money
	Delivery Money
	Total    Money
}

// Compute calculates order totals given the line items, the accumulated
// promotion discount and the delivery charge. The discount is clamped so the
// payable amount never drops below zero.
func Compute(items []Item, discount Money, delivery Money) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	if delivery < 0 {
		delivery = 0
	}
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Delivery: delivery,
		Total:    subtotal - discount + delivery,
	}
}
