package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service settles promotion usage at order commit. Quoting is a pure read;
// only a committed order burns usage, so abandoned carts never consume quota.
type Service struct {
	Usage  UsageSource
	Now    func() time.Time
	Logger zerolog.Logger
}

// Settle records usage for every applied rule, idempotently per order. The
// global counter uses a bounded conditional increment so concurrent commits
// cannot redeem past the usage limit; a rule that lost the race is reported
// as ErrUsageLimitReached.
func (s *Service) Settle(ctx context.Context, applied []AppliedRule, orderID, userID string) error {
	if s == nil || s.Usage == nil {
		return errors.New("promotion service not configured")
	}
	if orderID == "" || len(applied) == 0 {
		return nil
	}
	now := s.now()
	for _, ar := range applied {
		exists, err := s.Usage.UsageExists(ctx, ar.RuleID, orderID)
		if err != nil {
			return fmt.Errorf("check usage for rule %s: %w", ar.RuleID, err)
		}
		if exists {
			continue
		}
		ok, err := s.Usage.TryIncrementUsedCount(ctx, ar.RuleID)
		if err != nil {
			return fmt.Errorf("increment used count for rule %s: %w", ar.RuleID, err)
		}
		if !ok {
			return fmt.Errorf("rule %s: %w", ar.RuleID, ErrUsageLimitReached)
		}
		rec := UsageRecord{
			RuleID:  ar.RuleID,
			UserID:  userID,
			OrderID: orderID,
			Amount:  ar.Discount,
			UsedAt:  now,
		}
		if err := s.Usage.RecordUsage(ctx, rec); err != nil {
			return fmt.Errorf("record usage for rule %s: %w", ar.RuleID, err)
		}
		s.Logger.Info().
			Str("rule_id", ar.RuleID).
			Str("order_id", orderID).
			Int64("amount", int64(ar.Discount)).
			Msg("promotion usage settled")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
