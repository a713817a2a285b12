// Package tasks holds the background maintenance jobs: purging stale carts
// and deactivating expired promotion rules.
package tasks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mithaas/internal/repo"
)

const (
	// TypeCartPurge removes carts untouched for longer than the cart TTL.
	TypeCartPurge = "cart:purge_stale"
	// TypeRuleSweep deactivates promotion rules past their validity window.
	TypeRuleSweep = "promo:deactivate_expired"
)

// NewCartPurgeTask builds the periodic cart purge task.
func NewCartPurgeTask() *asynq.Task {
	return asynq.NewTask(TypeCartPurge, nil)
}

// NewRuleSweepTask builds the periodic rule sweep task.
func NewRuleSweepTask() *asynq.Task {
	return asynq.NewTask(TypeRuleSweep, nil)
}

// Handlers executes the maintenance jobs against the repositories.
type Handlers struct {
	Carts   repo.CartsRepo
	Rules   repo.RulesRepo
	CartTTL time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Register attaches the handlers to the mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCartPurge, h.HandleCartPurge)
	mux.HandleFunc(TypeRuleSweep, h.HandleRuleSweep)
}

// HandleCartPurge deletes carts whose last update is older than the TTL.
func (h *Handlers) HandleCartPurge(ctx context.Context, _ *asynq.Task) error {
	purged, err := h.Carts.PurgeStale(ctx, h.CartTTL, h.now())
	if err != nil {
		return err
	}
	if purged > 0 {
		h.Logger.Info().Int64("purged", purged).Msg("stale carts removed")
	}
	return nil
}

// HandleRuleSweep flips off expired rules so auto-apply listings stay clean.
func (h *Handlers) HandleRuleSweep(ctx context.Context, _ *asynq.Task) error {
	swept, err := h.Rules.DeactivateExpired(ctx, h.now())
	if err != nil {
		return err
	}
	if swept > 0 {
		h.Logger.Info().Int64("deactivated", swept).Msg("expired promotion rules deactivated")
	}
	return nil
}

func (h *Handlers) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
