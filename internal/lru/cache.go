// Package lru is a sharded, byte-bounded least recently used cache.
//
// Keys are expected to be well distributed hashes already, values are opaque
// byte slices. Each shard owns maxBytes/shards and evicts independently.
package lru

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

type OnEvict func(k uint64, v []byte)

type Cache struct {
	maxBytes uint64
	shards   []*shard
}

func New(shards int, maxTotalBytes uint64, onEvict OnEvict) (*Cache, error) {
	if shards < 1 {
		return nil, errors.Wrapf(ErrInvalidSharding, "%d shards", shards)
	}

	if maxTotalBytes < uint64(shards) {
		return nil, errors.Wrapf(ErrIllegalCapacity, "%d bytes for %d shards", maxTotalBytes, shards)
	}

	c := Cache{
		maxBytes: maxTotalBytes,
		shards:   make([]*shard, shards),
	}

	perShard := maxTotalBytes / uint64(shards)
	for i := range c.shards {
		c.shards[i] = newShard(perShard, onEvict)
	}

	return &c, nil
}

// Add stores value under key and reports whether anything was evicted.
// Values larger than a shard are not stored.
func (c *Cache) Add(key uint64, value []byte) bool {
	return c.shardFor(key).add(key, value)
}

func (c *Cache) Get(key uint64) ([]byte, bool) {
	return c.shardFor(key).get(key)
}

func (c *Cache) Remove(key uint64) bool {
	_, ok := c.shardFor(key).remove(key)
	return ok
}

func (c *Cache) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(s *shard) {
			defer wg.Done()
			s.purge()
		}(c.shards[i])
	}

	wg.Wait()
}

func (c *Cache) Count() int {
	n := 0
	for _, s := range c.shards {
		n += s.count()
	}
	return n
}

// Bytes is the sum of stored value lengths.
func (c *Cache) Bytes() uint64 {
	var n uint64
	for _, s := range c.shards {
		n += s.size()
	}
	return n
}

func (c *Cache) MaxBytes() uint64 {
	return c.maxBytes
}

func (c *Cache) Keys() []uint64 {
	keys := make([]uint64, 0, c.Count())
	for _, s := range c.shards {
		keys = append(keys, s.keys()...)
	}
	return keys
}

func (c *Cache) shardFor(key uint64) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}

	var bs [8]byte
	binary.LittleEndian.PutUint64(bs[:], key)
	return c.shards[xxhash.Sum64(bs[:])%uint64(len(c.shards))]
}
