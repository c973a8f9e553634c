package cache

import (
	"context"
	"sync"

	"github.com/xpense-app/xpense/ledger"
)

// InMemoryCache implements Cache with a map. Used by tests and cacheless
// single-process deployments.
type InMemoryCache struct {
	mu      sync.Mutex
	entries map[string]ledger.BalanceView
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]ledger.BalanceView)}
}

// GetBalance reads a cached balance view.
func (c *InMemoryCache) GetBalance(_ context.Context, user string) (ledger.BalanceView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.entries[user]
	return balance, ok, nil
}

// SetBalance stores a balance view.
func (c *InMemoryCache) SetBalance(_ context.Context, user string, balance ledger.BalanceView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[user] = balance
	return nil
}

// Invalidate drops the entries for the given users.
func (c *InMemoryCache) Invalidate(_ context.Context, users ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		delete(c.entries, u)
	}
	return nil
}
