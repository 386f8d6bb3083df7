package lru

import (
	"container/list"
	"sync"
)

type shard struct {
	mu         sync.Mutex
	totalBytes uint64
	maxBytes   uint64
	evictList  *list.List
	elems      map[uint64]*list.Element
	onEvict    OnEvict
}

type item struct {
	key   uint64
	value []byte
}

func newShard(maxBytes uint64, onEvict OnEvict) *shard {
	return &shard{
		maxBytes:  maxBytes,
		evictList: list.New(),
		elems:     make(map[uint64]*list.Element),
		onEvict:   onEvict,
	}
}

func (s *shard) get(key uint64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elems[key]
	if !ok {
		return nil, false
	}

	s.evictList.MoveToFront(elem)
	return elem.Value.(*item).value, true
}

func (s *shard) add(key uint64, value []byte) bool {
	size := uint64(len(value))
	if size > s.maxBytes {
		return false
	}

	s.mu.Lock()

	var evicted []*item
	if elem, ok := s.elems[key]; ok {
		it := elem.Value.(*item)
		s.totalBytes -= uint64(len(it.value))
		it.value = value
		s.totalBytes += size
		s.evictList.MoveToFront(elem)
		evicted = s.shrinkUnderLock(key)
	} else {
		// make room before the new value goes in
		for s.totalBytes+size > s.maxBytes {
			it, ok := s.removeOldestUnderLock()
			if !ok {
				break
			}
			evicted = append(evicted, it)
		}

		s.elems[key] = s.evictList.PushFront(&item{key: key, value: value})
		s.totalBytes += size
	}

	s.mu.Unlock()

	if s.onEvict != nil {
		for _, it := range evicted {
			s.onEvict(it.key, it.value)
		}
	}

	return len(evicted) > 0
}

// shrinkUnderLock evicts from the back until the shard fits, never evicting keep.
func (s *shard) shrinkUnderLock(keep uint64) []*item {
	var evicted []*item
	for s.totalBytes > s.maxBytes {
		elem := s.evictList.Back()
		if elem == nil || elem.Value.(*item).key == keep {
			break
		}
		evicted = append(evicted, s.removeElementUnderLock(elem))
	}
	return evicted
}

func (s *shard) remove(key uint64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elems[key]
	if !ok {
		return nil, false
	}

	return s.removeElementUnderLock(elem).value, true
}

func (s *shard) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elems = make(map[uint64]*list.Element)
	s.evictList.Init()
	s.totalBytes = 0
}

func (s *shard) removeOldestUnderLock() (*item, bool) {
	elem := s.evictList.Back()
	if elem == nil {
		return nil, false
	}
	return s.removeElementUnderLock(elem), true
}

func (s *shard) removeElementUnderLock(elem *list.Element) *item {
	s.evictList.Remove(elem)
	it := elem.Value.(*item)
	delete(s.elems, it.key)
	s.totalBytes -= uint64(len(it.value))
	return it
}

func (s *shard) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elems)
}

func (s *shard) size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

func (s *shard) keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]uint64, 0, len(s.elems))
	for k := range s.elems {
		keys = append(keys, k)
	}
	return keys
}
