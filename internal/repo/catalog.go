package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-mithaas/internal/cart"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// CatalogRepo reads product snapshots for cart reconciliation. The catalog
// itself is owned elsewhere; this repository is strictly read-only apart from
// the stock decrement used at order commit.
type CatalogRepo struct {
	DB DB
}

// GetProduct loads a product with its variants.
func (r CatalogRepo) GetProduct(ctx context.Context, id string) (cart.ProductSnapshot, error) {
	var p cart.ProductSnapshot
	err := r.DB.QueryRow(ctx,
		`SELECT id, name, category, available, sold_out FROM products WHERE id = $1`,
		id).Scan(&p.ID, &p.Name, &p.Category, &p.Available, &p.SoldOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ProductSnapshot{}, cart.ErrProductNotFound
		}
		return cart.ProductSnapshot{}, fmt.Errorf("get product: %w", err)
	}
	variants, err := r.variants(ctx, id)
	if err != nil {
		return cart.ProductSnapshot{}, err
	}
	p.Variants = variants
	return p, nil
}

// GetProductsByCategory loads every product in a category.
func (r CatalogRepo) GetProductsByCategory(ctx context.Context, category string) ([]cart.ProductSnapshot, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT id, name, category, available, sold_out FROM products WHERE category = $1`,
		category)
	if err != nil {
		return nil, fmt.Errorf("list products by category: %w", err)
	}
	defer rows.Close()

	var out []cart.ProductSnapshot
	for rows.Next() {
		var p cart.ProductSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Available, &p.SoldOut); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		variants, err := r.variants(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Variants = variants
	}
	return out, nil
}

// DecrementStock atomically reserves qty units of the variant, failing when
// stock is insufficient. This is the authoritative check at order commit.
func (r CatalogRepo) DecrementStock(ctx context.Context, productID, variantKey string, qty int) (bool, error) {
	tag, err := r.DB.Exec(ctx,
		`UPDATE product_variants SET stock = stock - $3
		 WHERE product_id = $1 AND key = $2 AND stock >= $3`,
		productID, variantKey, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r CatalogRepo) variants(ctx context.Context, productID string) ([]cart.Variant, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT key, label, price, stock, available FROM product_variants
		 WHERE product_id = $1 ORDER BY price`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []cart.Variant
	for rows.Next() {
		var (
			v     cart.Variant
			price int64
		)
		if err := rows.Scan(&v.Key, &v.Label, &price, &v.Stock, &v.Available); err != nil {
			return nil, err
		}
		v.Price = pricing.Money(price)
		out = append(out, v)
	}
	return out, rows.Err()
}
