package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFixed(t *testing.T) {
	rq := NewRingQueue[int](2, false)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(3))

	v, _ = rq.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = rq.Dequeue()
	assert.Equal(t, 3, v)

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueGrowKeepsOrder(t *testing.T) {
	rq := NewRingQueue[int](2, true)
	require.NoError(t, rq.Enqueue(0))
	_, _ = rq.Dequeue()
	// wrap the write index before growing
	for i := 1; i <= 5; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.Equal(t, 5, rq.Len())
	assert.GreaterOrEqual(t, rq.Cap(), 5)
	for i := 1; i <= 5; i++ {
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })
	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	_, ok = c.Peek("b")
	assert.False(t, ok)

	k, _, ok := c.Oldest()
	require.True(t, ok)
	assert.Equal(t, "a", k)

	var order []string
	c.Range(func(k string, _ int) bool {
		order = append(order, k)
		return true
	})
	assert.Equal(t, []string{"c", "a"}, order)
}

func TestLRURemoveSkipsCallback(t *testing.T) {
	calls := 0
	c := NewLRU[int, int](0, func(int, int) { calls++ })
	for i := 0; i < 10; i++ {
		c.Put(i, i)
	}
	assert.Equal(t, 10, c.Len())
	v, ok := c.Remove(3)
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 0, calls)
	assert.True(t, c.EvictOldest())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 8, c.Len())
}
