package evalcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/engine"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	limit := engine.Limit{Depth: 18, MoveTime: 800 * time.Millisecond}

	t.Run("miss before put", func(t *testing.T) {
		_, ok := c.Get(startFEN, limit, 1)
		assert.False(t, ok)
	})

	t.Run("hit after put", func(t *testing.T) {
		want := []engine.Line{{PV: []string{"e2e4", "e7e5"}, Score: engine.Score{CP: 30}, Depth: 18}}
		c.Put(startFEN, limit, 1, want)

		got, ok := c.Get(startFEN, limit, 1)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("different limits are different keys", func(t *testing.T) {
		_, ok := c.Get(startFEN, engine.Limit{Depth: 10, MoveTime: 800 * time.Millisecond}, 1)
		assert.False(t, ok)

		_, ok = c.Get(startFEN, limit, 3)
		assert.False(t, ok)
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		next := []engine.Line{{PV: []string{"d2d4"}, Score: engine.Score{CP: 25}, Depth: 18}}
		c.Put(startFEN, limit, 1, next)

		got, ok := c.Get(startFEN, limit, 1)
		require.True(t, ok)
		assert.Equal(t, next, got)
	})
}

func TestCacheEmptyLinesAreMisses(t *testing.T) {
	c := openTestCache(t)
	limit := engine.Limit{Depth: 18}

	c.Put(startFEN, limit, 1, nil)
	_, ok := c.Get(startFEN, limit, 1)
	assert.False(t, ok)
}
