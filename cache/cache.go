// Package cache caches computed balance views per user. The store stays
// authoritative: a miss or a cache failure always falls back to
// recomputation, never to a request failure.
package cache

import (
	"context"

	"github.com/xpense-app/xpense/ledger"
)

// Cache holds per-user balance views. Entries must be invalidated whenever an
// expense is created, updated or deleted; settling an expense does not change
// balances and needs no invalidation.
type Cache interface {
	// GetBalance returns the cached view and whether it was present.
	GetBalance(ctx context.Context, user string) (ledger.BalanceView, bool, error)

	// SetBalance stores the view for a user.
	SetBalance(ctx context.Context, user string, balance ledger.BalanceView) error

	// Invalidate drops the entries for the given users.
	Invalidate(ctx context.Context, users ...string) error
}
