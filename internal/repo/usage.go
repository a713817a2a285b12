package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mithaas/internal/promo"
)

// UsageRepo tracks promotion redemptions. The global counter lives on the
// rule row and is only ever bumped through the bounded conditional update, so
// concurrent commits cannot redeem past the usage limit.
type UsageRepo struct {
	DB DB
}

// CountUsage returns the number of redemptions of the rule by the user.
func (r UsageRepo) CountUsage(ctx context.Context, ruleID string, userID string) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx,
		`SELECT count(*) FROM promotion_usage WHERE rule_id = $1 AND user_id = $2`,
		ruleID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// UsageExists reports whether the order already settled usage for the rule.
func (r UsageRepo) UsageExists(ctx context.Context, ruleID string, orderID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM promotion_usage WHERE rule_id = $1 AND order_id = $2)`,
		ruleID, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check usage: %w", err)
	}
	return exists, nil
}

// RecordUsage appends one redemption. The (rule, order) pair is unique, so a
// racing duplicate settle degrades to a no-op.
func (r UsageRepo) RecordUsage(ctx context.Context, rec promo.UsageRecord) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO promotion_usage (id, rule_id, user_id, order_id, amount, used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), rec.RuleID, rec.UserID, rec.OrderID, int64(rec.Amount), rec.UsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// TryIncrementUsedCount bumps used_count only while it is below the limit.
// A zero usage_limit means unlimited.
func (r UsageRepo) TryIncrementUsedCount(ctx context.Context, ruleID string) (bool, error) {
	tag, err := r.DB.Exec(ctx,
		`UPDATE promotion_rules SET used_count = used_count + 1
		 WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`,
		ruleID)
	if err != nil {
		return false, fmt.Errorf("increment used count: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
