package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mithaas/internal/cart"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// Order is the committed snapshot of a quote. Amounts are frozen at commit
// time and never recomputed.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"userId"`
	Lines          []cart.Line     `json:"lines"`
	Subtotal       pricing.Money   `json:"subtotal"`
	Discount       pricing.Money   `json:"discount"`
	DeliveryCharge pricing.Money   `json:"deliveryCharge"`
	Total          pricing.Money   `json:"total"`
	CouponCode     string          `json:"couponCode,omitempty"`
	Mode           string          `json:"mode"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// OrdersRepo persists committed orders.
type OrdersRepo struct {
	DB DB
}

// InsertOrder writes the order snapshot.
func (r OrdersRepo) InsertOrder(ctx context.Context, o Order) error {
	raw, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("encode order lines: %w", err)
	}
	_, err = r.DB.Exec(ctx,
		`INSERT INTO orders (id, user_id, lines, subtotal, discount, delivery_charge,
			total, coupon_code, mode, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.UserID, raw, int64(o.Subtotal), int64(o.Discount),
		int64(o.DeliveryCharge), int64(o.Total), o.CouponCode, o.Mode,
		o.Status, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
