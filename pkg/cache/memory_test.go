package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.True(t, IsMiss(err))

	value := []byte("hello")
	require.NoError(t, m.Set(ctx, "k", value, 0))
	value[0] = 'j'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got), "stored values are copied")

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, m.Len())
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Selector string `json:"selector"`
	}

	require.NoError(t, SetJSON(ctx, m, "sel", payload{Selector: "#send"}, 0))

	var out payload
	require.NoError(t, GetJSON(ctx, m, "sel", &out))
	assert.Equal(t, "#send", out.Selector)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), 0))
	assert.Error(t, GetJSON(ctx, m, "bad", &out))
	assert.True(t, IsMiss(GetJSON(ctx, m, "none", &out)))
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			key := string(rune('a' + i))
			_ = m.Set(ctx, key, []byte{byte(i)}, 0)
			_, _ = m.Get(ctx, key)
		}()
	}

	wg.Wait()
	assert.Equal(t, 20, m.Len())
	require.NoError(t, m.Close())
	assert.Zero(t, m.Len())
}
