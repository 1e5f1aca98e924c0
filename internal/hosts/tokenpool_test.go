// internal/hosts/tokenpool_test.go
package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "forge-issues/internal/errors"
)

func TestTokenPool_Random(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		pool := NewTokenPool(nil)
		_, err := pool.Random()
		assert.ErrorIs(t, err, custom_errors.ErrNoTokens)
	})

	t.Run("single token", func(t *testing.T) {
		pool := NewTokenPool([]string{"tok-a"})
		for i := 0; i < 5; i++ {
			token, err := pool.Random()
			require.NoError(t, err)
			assert.Equal(t, "tok-a", token)
		}
	})

	t.Run("returns a member of the pool", func(t *testing.T) {
		pool := NewTokenPool([]string{"tok-a", "tok-b", "tok-c"})
		token, err := pool.Random()
		require.NoError(t, err)
		assert.Contains(t, pool.List(), token)
	})
}

func TestTokenPool_Add(t *testing.T) {
	pool := NewTokenPool([]string{"tok-a"})

	pool.Add("tok-b")
	assert.Equal(t, 2, pool.Len())

	// Duplicates and empties are ignored.
	pool.Add("tok-a")
	pool.Add("")
	assert.Equal(t, 2, pool.Len())
}

func TestTokenPool_Remove(t *testing.T) {
	pool := NewTokenPool([]string{"tok-a", "tok-b", "tok-c"})

	pool.Remove("tok-b")
	assert.Equal(t, 2, pool.Len())
	assert.NotContains(t, pool.List(), "tok-b")

	// Removing an unknown token is a no-op.
	pool.Remove("tok-x")
	assert.Equal(t, 2, pool.Len())

	pool.Remove("tok-a")
	pool.Remove("tok-c")
	_, err := pool.Random()
	assert.ErrorIs(t, err, custom_errors.ErrNoTokens)
}
