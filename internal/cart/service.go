package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/lock"
)

// Service coordinates cart persistence, guest merges and reconciliation.
type Service struct {
	Store   Store
	Catalog Catalog
	Locker  lock.Locker
	Policy  StockPolicy
	Now     func() time.Time
	Logger  zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) policy() StockPolicy {
	if s == nil || s.Policy == "" {
		return StockPolicyDrop
	}
	return s.Policy
}

// Sync merges locally-held lines into the user's persisted cart, revalidates
// the result and saves it. Safe to repeat: merging an empty payload leaves the
// cart unchanged apart from price corrections.
func (s *Service) Sync(ctx context.Context, userID string, local []Line) (ReconcileResult, error) {
	if s == nil || s.Store == nil || s.Catalog == nil {
		return ReconcileResult{}, errors.New("cart service not configured")
	}
	if userID == "" {
		return ReconcileResult{}, fmt.Errorf("user id required: %w", ErrInvalidInput)
	}
	for _, l := range local {
		if l.ProductID == "" || l.Qty <= 0 {
			return ReconcileResult{}, fmt.Errorf("line %q: qty must be positive: %w", l.ProductID, ErrInvalidInput)
		}
	}

	var result ReconcileResult
	err := s.Locker.WithLock(ctx, "cart:merge:"+userID, 10*time.Second, func(ctx context.Context) error {
		existing, err := s.Store.LoadCart(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		merged := Merge(existing.Lines, local)
		result, err = Reconcile(ctx, merged, s.Catalog, s.policy())
		if err != nil {
			return err
		}
		return s.Store.SaveCart(ctx, userID, Cart{UserID: userID, Lines: result.Lines, UpdatedAt: s.now()})
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if n := len(result.Dropped); n > 0 {
		s.Logger.Info().Str("user_id", userID).Int("dropped", n).Msg("cart sync dropped stale lines")
	}
	return result, nil
}

// MergeGuest folds a guest session's lines into the user cart after login.
// Same semantics as Sync; kept separate so callers can log the transition.
func (s *Service) MergeGuest(ctx context.Context, userID string, guest []Line) (ReconcileResult, error) {
	result, err := s.Sync(ctx, userID, guest)
	if err != nil {
		return ReconcileResult{}, err
	}
	s.Logger.Info().Str("user_id", userID).Int("lines", len(result.Lines)).Msg("guest cart merged")
	return result, nil
}

// Validate reconciles the provided lines without persisting anything.
func (s *Service) Validate(ctx context.Context, lines []Line) (ReconcileResult, error) {
	if s == nil || s.Catalog == nil {
		return ReconcileResult{}, errors.New("cart service not configured")
	}
	return Reconcile(ctx, lines, s.Catalog, s.policy())
}

// Summary loads the persisted cart and returns it with totals. A missing
// cart yields an empty summary, not an error.
func (s *Service) Summary(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	c, err := s.Store.LoadCart(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Cart{UserID: userID}, nil
		}
		return Cart{}, err
	}
	return c, nil
}

// Cleanup revalidates the persisted cart in place, dropping stale lines and
// correcting prices. Returns the reconciliation outcome.
func (s *Service) Cleanup(ctx context.Context, userID string) (ReconcileResult, error) {
	return s.Sync(ctx, userID, nil)
}

// Clear removes every line after an order commits the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return s.Store.SaveCart(ctx, userID, Cart{UserID: userID, UpdatedAt: s.now()})
}
