package lru

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(0, 1024, nil)
	require.ErrorIs(t, err, ErrInvalidSharding)

	_, err = New(8, 4, nil)
	require.ErrorIs(t, err, ErrIllegalCapacity)
}

func TestCache_Add(t *testing.T) {
	t.Run("just add with no eviction", func(t *testing.T) {
		evicted := 0
		c, err := New(4, 4096, func(k uint64, v []byte) { evicted++ })
		require.NoError(t, err)

		for i := 0; i < 100; i += 5 {
			c.Add(uint64(i), []byte(fmt.Sprintf("Value %d", i)))
		}

		for i := 0; i < 100; i += 5 {
			v, ok := c.Get(uint64(i))
			require.True(t, ok)
			assert.Exactly(t, []byte(fmt.Sprintf("Value %d", i)), v)
		}

		assert.Equal(t, 0, evicted)
		assert.Equal(t, 20, c.Count())
		assert.Len(t, c.Keys(), 20)
	})

	t.Run("it evicts the least recently used entry", func(t *testing.T) {
		var evictedKeys []uint64
		c, err := New(1, 80, func(k uint64, v []byte) { evictedKeys = append(evictedKeys, k) })
		require.NoError(t, err)

		for _, k := range []uint64{1, 33, 99, 134} {
			assert.False(t, c.Add(k, []byte(fmt.Sprintf("%019d", k))))
		}

		// touch everything except 99
		for _, k := range []uint64{1, 33, 134} {
			_, ok := c.Get(k)
			require.True(t, ok)
		}

		assert.True(t, c.Add(456, []byte(fmt.Sprintf("%019d", 456))))
		require.Equal(t, []uint64{99}, evictedKeys)

		_, ok := c.Get(99)
		assert.False(t, ok)
		assert.Equal(t, 4, c.Count())
		assert.Equal(t, uint64(76), c.Bytes())
	})

	t.Run("replacing a value keeps the count", func(t *testing.T) {
		c, err := New(1, 100, nil)
		require.NoError(t, err)

		c.Add(7, []byte("abc"))
		c.Add(7, []byte("abcdef"))

		v, ok := c.Get(7)
		require.True(t, ok)
		assert.Equal(t, []byte("abcdef"), v)
		assert.Equal(t, 1, c.Count())
		assert.Equal(t, uint64(6), c.Bytes())
	})

	t.Run("values larger than a shard are ignored", func(t *testing.T) {
		c, err := New(2, 20, nil)
		require.NoError(t, err)

		assert.False(t, c.Add(1, make([]byte, 11)))
		_, ok := c.Get(1)
		assert.False(t, ok)
	})
}

func TestCache_RemoveAndPurge(t *testing.T) {
	c, err := New(3, 3000, nil)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		c.Add(uint64(i), []byte("value"))
	}

	assert.True(t, c.Remove(3))
	assert.False(t, c.Remove(3))
	assert.Equal(t, 29, c.Count())

	c.Purge()
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, uint64(0), c.Bytes())
}
