package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/cart"
	"github.com/noah-isme/backend-mithaas/internal/common"
	"github.com/noah-isme/backend-mithaas/internal/delivery"
	"github.com/noah-isme/backend-mithaas/internal/geo"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
	"github.com/noah-isme/backend-mithaas/internal/promo"
	"github.com/noah-isme/backend-mithaas/internal/repo"
)

// Input is the checkout request: the persisted cart plus a destination and
// an optional coupon.
type Input struct {
	UserID     string `json:"userId"`
	CouponCode string `json:"couponCode"`
	Mode       string `json:"mode"`
	Pincode    string `json:"pincode"`
	Address    string `json:"address"`
}

// Output is the committed order with the reconciliation outcome that was
// applied during the authoritative stock check.
type Output struct {
	Order    repo.Order          `json:"order"`
	Applied  []promo.AppliedRule `json:"applied,omitempty"`
	Delivery delivery.Quote      `json:"delivery"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Service commits an order: authoritative stock check, promotion settle and
// cart clear run inside one transaction. Quoting up to that point is a pure
// read, so a failed commit burns nothing.
type Service struct {
	Pool     *pgxpool.Pool
	Resolver *geo.Resolver
	Delivery *delivery.Calculator
	Promo    *promo.Orchestrator

	Policy                  cart.StockPolicy
	AllowDoubleFreeDelivery bool
	Now                     func() time.Time
	Logger                  zerolog.Logger
}

// Create places the order for the user's persisted cart.
func (s *Service) Create(ctx context.Context, in Input) (Output, error) {
	if s == nil || s.Pool == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if in.UserID == "" {
		return Output{}, common.NewAppError(common.CodeBadRequest, "userId is required", http.StatusBadRequest, nil)
	}
	mode := delivery.Mode(in.Mode)
	if mode == "" {
		mode = delivery.ModeDelivery
	}
	if mode != delivery.ModeDelivery && mode != delivery.ModePickup {
		return Output{}, common.NewAppError(common.CodeBadRequest, fmt.Sprintf("unknown mode %q", in.Mode), http.StatusBadRequest, nil)
	}

	// Geocoding happens before the transaction: it is the only slow external
	// call and it never fails outright.
	var dest geo.Point
	if mode == delivery.ModeDelivery {
		dest, _ = s.Resolver.Resolve(ctx, in.Pincode, in.Address)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Output{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	carts := repo.CartsRepo{DB: tx}
	catalog := repo.CatalogRepo{DB: tx}
	orders := repo.OrdersRepo{DB: tx}
	settle := &promo.Service{Usage: repo.UsageRepo{DB: tx}, Now: s.Now, Logger: s.Logger}

	persisted, err := carts.LoadCart(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return Output{}, common.NewAppError(common.CodeNotFound, "cart not found", http.StatusNotFound, err)
		}
		return Output{}, err
	}

	// Second authoritative stock check, same taxonomy as cart sync.
	result, err := cart.Reconcile(ctx, persisted.Lines, catalog, s.Policy)
	if err != nil {
		return Output{}, err
	}
	if len(result.Lines) == 0 {
		return Output{}, common.NewAppError(common.CodeStaleState, "cart is empty after revalidation", http.StatusConflict, nil)
	}
	for _, line := range result.Lines {
		ok, err := catalog.DecrementStock(ctx, line.ProductID, line.VariantKey, line.Qty)
		if err != nil {
			return Output{}, err
		}
		if !ok {
			return Output{}, common.NewAppError(common.CodeStaleState,
				fmt.Sprintf("insufficient stock for %s (%s)", line.ProductID, line.VariantKey),
				http.StatusConflict, nil)
		}
	}

	subtotal := result.Subtotal()
	promoLines, err := toPromoLines(ctx, catalog, result.Lines)
	if err != nil {
		return Output{}, err
	}
	quote, err := s.Promo.Quote(ctx, promoLines, subtotal, in.CouponCode, in.UserID)
	if err != nil {
		return Output{}, err
	}

	dq, waiverConsumed, err := s.deliveryQuote(ctx, dest, subtotal, mode, quote.FreeDelivery)
	if err != nil {
		return Output{}, err
	}
	if quote.FreeDelivery && !waiverConsumed {
		quote.Applied = dropFreeShipping(quote.Applied)
	}

	summary := pricing.Compute(toPricingItems(result.Lines), quote.Discount, dq.Charge)
	order := repo.Order{
		ID:             uuid.New(),
		UserID:         in.UserID,
		Lines:          result.Lines,
		Subtotal:       summary.Subtotal,
		Discount:       summary.Discount,
		DeliveryCharge: summary.Delivery,
		Total:          summary.Total,
		CouponCode:     promo.NormalizeCode(in.CouponCode),
		Mode:           string(mode),
		Status:         "placed",
		CreatedAt:      s.now(),
	}
	if err := orders.InsertOrder(ctx, order); err != nil {
		return Output{}, err
	}
	if err := settle.Settle(ctx, quote.Applied, order.ID.String(), in.UserID); err != nil {
		return Output{}, err
	}
	if err := carts.DeleteCart(ctx, in.UserID); err != nil {
		return Output{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Output{}, err
	}

	s.Logger.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", in.UserID).
		Int64("total", int64(order.Total)).
		Int("lines", len(order.Lines)).
		Msg("order committed")
	return Output{
		Order:    order,
		Applied:  quote.Applied,
		Delivery: dq,
		Warnings: result.Warnings(),
	}, nil
}

// deliveryQuote computes the charge and applies a FreeShipping waiver. When
// double free delivery is disallowed and the quote is already free via the
// order threshold, the waiver is not consumed, so the rule's usage is not
// settled for an order it did nothing for.
func (s *Service) deliveryQuote(ctx context.Context, dest geo.Point, subtotal pricing.Money, mode delivery.Mode, waiver bool) (delivery.Quote, bool, error) {
	dq, err := s.Delivery.Quote(ctx, dest, subtotal, mode, false)
	if err != nil {
		if errors.Is(err, delivery.ErrOutOfServiceArea) {
			return delivery.Quote{}, false, common.NewAppError(common.CodeOutOfServiceArea,
				"destination is outside the delivery area", http.StatusUnprocessableEntity, err)
		}
		return delivery.Quote{}, false, err
	}
	if waiver && (s.AllowDoubleFreeDelivery || !dq.IsFree) {
		dq.Charge = 0
		dq.IsFree = true
		return dq, true, nil
	}
	return dq, false, nil
}

func dropFreeShipping(applied []promo.AppliedRule) []promo.AppliedRule {
	kept := applied[:0]
	for _, ar := range applied {
		if ar.Kind == promo.KindFreeShipping {
			continue
		}
		kept = append(kept, ar)
	}
	return kept
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// toPromoLines joins the cart lines with their catalog categories so scoped
// rules can match.
func toPromoLines(ctx context.Context, catalog cart.Catalog, lines []cart.Line) ([]promo.Line, error) {
	categories := make(map[string]string, len(lines))
	out := make([]promo.Line, 0, len(lines))
	for _, l := range lines {
		category, ok := categories[l.ProductID]
		if !ok {
			product, err := catalog.GetProduct(ctx, l.ProductID)
			if err != nil {
				return nil, fmt.Errorf("load category for %s: %w", l.ProductID, err)
			}
			category = product.Category
			categories[l.ProductID] = category
		}
		out = append(out, promo.Line{
			ProductID: l.ProductID,
			Category:  category,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
		})
	}
	return out, nil
}

func toPricingItems(lines []cart.Line) []pricing.Item {
	items := make([]pricing.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, pricing.Item{Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	return items
}
