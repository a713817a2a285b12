package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-mithaas/internal/cart"
)

// CartsRepo persists carts as one jsonb document per user. Lines are an
// ordered list, so round-tripping keeps first-appearance order intact.
type CartsRepo struct {
	DB DB
}

// LoadCart returns the persisted cart or cart.ErrNotFound.
func (r CartsRepo) LoadCart(ctx context.Context, userID string) (cart.Cart, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.DB.QueryRow(ctx,
		`SELECT lines, updated_at FROM carts WHERE user_id = $1`,
		userID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Cart{}, cart.ErrNotFound
		}
		return cart.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var lines []cart.Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		return cart.Cart{}, fmt.Errorf("decode cart lines: %w", err)
	}
	return cart.Cart{UserID: userID, Lines: lines, UpdatedAt: updatedAt}, nil
}

// SaveCart upserts the cart document.
func (r CartsRepo) SaveCart(ctx context.Context, userID string, c cart.Cart) error {
	raw, err := json.Marshal(c.Lines)
	if err != nil {
		return fmt.Errorf("encode cart lines: %w", err)
	}
	_, err = r.DB.Exec(ctx,
		`INSERT INTO carts (user_id, lines, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET lines = $2, updated_at = $3`,
		userID, raw, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// DeleteCart removes the cart, used when an order commits.
func (r CartsRepo) DeleteCart(ctx context.Context, userID string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// PurgeStale deletes carts untouched for longer than ttl. Used by the
// background worker.
func (r CartsRepo) PurgeStale(ctx context.Context, ttl time.Duration, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx,
		`DELETE FROM carts WHERE updated_at < $1`, now.Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purge stale carts: %w", err)
	}
	return tag.RowsAffected(), nil
}
