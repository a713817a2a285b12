package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-mithaas/internal/pricing"
	"github.com/noah-isme/backend-mithaas/internal/promo"
)

// RulesRepo persists promotion rules, serving both the evaluation reads and
// the admin CRUD surface.
type RulesRepo struct {
	DB DB
}

const ruleColumns = `id, code, kind, description, percent, amount, buy_qty, get_qty,
	min_amount, max_discount, product_ids, categories, stackable, auto_apply,
	priority, usage_limit, used_count, per_user_limit, active, valid_from,
	valid_to, badge_text, badge_color, created_at`

// GetByCode resolves a rule by coupon code, case-insensitively.
func (r RulesRepo) GetByCode(ctx context.Context, code string) (promo.Rule, error) {
	row := r.DB.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM promotion_rules WHERE upper(code) = upper($1)`,
		code)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Rule{}, promo.ErrRuleNotFound
		}
		return promo.Rule{}, fmt.Errorf("get rule by code: %w", err)
	}
	return rule, nil
}

// ListAutoApply returns active auto-apply rules inside their validity window,
// ordered by creation time so priority ties resolve deterministically.
func (r RulesRepo) ListAutoApply(ctx context.Context, now time.Time) ([]promo.Rule, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+ruleColumns+` FROM promotion_rules
		 WHERE auto_apply AND active
		   AND (valid_from IS NULL OR valid_from <= $1)
		   AND (valid_to IS NULL OR valid_to > $1)
		 ORDER BY created_at`,
		now)
	if err != nil {
		return nil, fmt.Errorf("list auto-apply rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// CreateRule inserts a new rule, mapping duplicate codes to ErrDuplicateCode.
func (r RulesRepo) CreateRule(ctx context.Context, rule promo.Rule) (promo.Rule, error) {
	rule.ID = uuid.New()
	rule.CreatedAt = time.Now().UTC()
	_, err := r.DB.Exec(ctx,
		`INSERT INTO promotion_rules (`+ruleColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		rule.ID, rule.Code, string(rule.Kind), rule.Description, rule.Percent,
		int64(rule.Amount), rule.BuyQty, rule.GetQty, int64(rule.MinAmount),
		int64(rule.MaxDiscount), rule.ProductIDs, rule.Categories,
		rule.Stackable, rule.AutoApply, rule.Priority, rule.UsageLimit,
		rule.UsedCount, rule.PerUserLimit, rule.Active, rule.ValidFrom,
		rule.ValidTo, rule.BadgeText, rule.BadgeColor, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.Rule{}, promo.ErrDuplicateCode
		}
		return promo.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// UpdateRule replaces the mutable fields of the rule identified by code.
func (r RulesRepo) UpdateRule(ctx context.Context, rule promo.Rule) (promo.Rule, error) {
	row := r.DB.QueryRow(ctx,
		`UPDATE promotion_rules SET
			kind = $2, description = $3, percent = $4, amount = $5,
			buy_qty = $6, get_qty = $7, min_amount = $8, max_discount = $9,
			product_ids = $10, categories = $11, stackable = $12,
			auto_apply = $13, priority = $14, usage_limit = $15,
			per_user_limit = $16, active = $17, valid_from = $18,
			valid_to = $19, badge_text = $20, badge_color = $21
		 WHERE upper(code) = upper($1)
		 RETURNING `+ruleColumns,
		rule.Code, string(rule.Kind), rule.Description, rule.Percent,
		int64(rule.Amount), rule.BuyQty, rule.GetQty, int64(rule.MinAmount),
		int64(rule.MaxDiscount), rule.ProductIDs, rule.Categories,
		rule.Stackable, rule.AutoApply, rule.Priority, rule.UsageLimit,
		rule.PerUserLimit, rule.Active, rule.ValidFrom, rule.ValidTo,
		rule.BadgeText, rule.BadgeColor)
	updated, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Rule{}, promo.ErrRuleNotFound
		}
		return promo.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return updated, nil
}

// DeleteRule removes the rule identified by code.
func (r RulesRepo) DeleteRule(ctx context.Context, code string) error {
	tag, err := r.DB.Exec(ctx,
		`DELETE FROM promotion_rules WHERE upper(code) = upper($1)`, code)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrRuleNotFound
	}
	return nil
}

// ListRules returns every rule, newest first.
func (r RulesRepo) ListRules(ctx context.Context) ([]promo.Rule, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+ruleColumns+` FROM promotion_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// DeactivateExpired flips off rules whose validity window has passed. Used by
// the background worker.
func (r RulesRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx,
		`UPDATE promotion_rules SET active = FALSE
		 WHERE active AND valid_to IS NOT NULL AND valid_to <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired rules: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRule(row pgx.Row) (promo.Rule, error) {
	var (
		rule   promo.Rule
		kind   string
		amount int64
		minAmt int64
		maxDis int64
	)
	err := row.Scan(&rule.ID, &rule.Code, &kind, &rule.Description,
		&rule.Percent, &amount, &rule.BuyQty, &rule.GetQty, &minAmt, &maxDis,
		&rule.ProductIDs, &rule.Categories, &rule.Stackable, &rule.AutoApply,
		&rule.Priority, &rule.UsageLimit, &rule.UsedCount, &rule.PerUserLimit,
		&rule.Active, &rule.ValidFrom, &rule.ValidTo, &rule.BadgeText,
		&rule.BadgeColor, &rule.CreatedAt)
	if err != nil {
		return promo.Rule{}, err
	}
	rule.Kind = promo.Kind(kind)
	rule.Amount = pricing.Money(amount)
	rule.MinAmount = pricing.Money(minAmt)
	rule.MaxDiscount = pricing.Money(maxDis)
	return rule, nil
}

func collectRules(rows pgx.Rows) ([]promo.Rule, error) {
	var out []promo.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
