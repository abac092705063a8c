package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/cache"
)

func TestSelectorCache(t *testing.T) {
	ctx := context.Background()
	selectors := NewSelectorCache(cache.NewMemory(), time.Minute)
	key := SelectorKey("wf", "search", 0)

	assert.Equal(t, "selector:wf:search:0", key)

	_, ok := selectors.Lookup(ctx, key)
	assert.False(t, ok)

	require.NoError(t, selectors.Remember(ctx, key, "input[name=q]"))

	selector, ok := selectors.Lookup(ctx, key)
	assert.True(t, ok)
	assert.Equal(t, "input[name=q]", selector)

	require.NoError(t, selectors.Forget(ctx, key))

	_, ok = selectors.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestSelectorCache_Nil(t *testing.T) {
	var selectors *SelectorCache

	_, ok := selectors.Lookup(context.Background(), "k")
	assert.False(t, ok)
	assert.NoError(t, selectors.Remember(context.Background(), "k", "#x"))
	assert.NoError(t, selectors.Forget(context.Background(), "k"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
