package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/aef/pkg/cache"
)

// SelectorCache remembers selectors discovered by the fallback so the next run
// can take the deterministic path.
type SelectorCache struct {
	store cache.Store
	ttl   time.Duration
}

func NewSelectorCache(store cache.Store, ttl time.Duration) *SelectorCache {
	return &SelectorCache{store: store, ttl: ttl}
}

func SelectorKey(workflowID, nodeID string, actionIndex int) string {
	return fmt.Sprintf("selector:%s:%s:%d", workflowID, nodeID, actionIndex)
}

func (c *SelectorCache) Lookup(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return "", false
	}

	return string(data), true
}

func (c *SelectorCache) Remember(ctx context.Context, key, selector string) error {
	if c == nil || selector == "" {
		return nil
	}

	return c.store.Set(ctx, key, []byte(selector), c.ttl)
}

// Forget drops a selector that stopped working.
func (c *SelectorCache) Forget(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}

	return c.store.Delete(ctx, key)
}
