// Package cmap provides a concurrent-safe sharded map with point-in-time
// read views.
package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Map is a concurrent-safe sharded map.
//
// Keys are routed with murmur3 so a key lands on the same shard index in
// every process that uses the same shard count.
type Map[K ~string, V any] struct {
	shards    []*shard[K, V]
	shardMask uint64
}

type shard[K ~string, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	seq   uint64
	views map[*View[K, V]]struct{}
}

// New creates a new sharded map with the default shard count.
func New[K ~string, V any]() *Map[K, V] {
	return NewWithShards[K, V](DefaultShardCount)
}

// NewWithShards creates a new sharded map with the specified shard count.
// shardCount must be a power of 2.
func NewWithShards[K ~string, V any](shardCount int) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}

	m := &Map[K, V]{
		shards:    make([]*shard[K, V], shardCount),
		shardMask: uint64(shardCount - 1),
	}
	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shard[K, V]{
			items: make(map[K]V),
			views: make(map[*View[K, V]]struct{}),
		}
	}
	return m
}

// ShardIndex returns the shard index a key routes to.
func (m *Map[K, V]) ShardIndex(key K) int {
	return int(murmur3.Sum64([]byte(key)) & m.shardMask)
}

func (m *Map[K, V]) getShard(key K) *shard[K, V] {
	return m.shards[m.ShardIndex(key)]
}

// Get retrieves a value by key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.items[key]
	return val, ok
}

// Set stores a key-value pair.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preserve(key)
	s.items[key] = value
}

// Delete removes a key. It reports whether the key existed.
func (m *Map[K, V]) Delete(key K) bool {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	s.preserve(key)
	delete(s.items, key)
	return true
}

// Has checks if a key exists.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Count returns the total number of items.
func (m *Map[K, V]) Count() int {
	count := 0
	for _, s := range m.shards {
		s.mu.RLock()
		count += len(s.items)
		s.mu.RUnlock()
	}
	return count
}

// Clear removes all items. Active views keep the contents they were cut at.
func (m *Map[K, V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.swap(make(map[K]V))
		s.mu.Unlock()
	}
}

// Replace atomically swaps the contents of every shard for items.
// Readers observe either the old or the new contents, never a mix.
func (m *Map[K, V]) Replace(items map[K]V) {
	next := make([]map[K]V, len(m.shards))
	for i := range next {
		next[i] = make(map[K]V)
	}
	for k, v := range items {
		next[m.ShardIndex(k)][k] = v
	}

	for _, s := range m.shards {
		s.mu.Lock()
	}
	for i, s := range m.shards {
		s.swap(next[i])
	}
	for _, s := range m.shards {
		s.mu.Unlock()
	}
}

// Seq returns the mutation sequence of a shard.
func (m *Map[K, V]) Seq(index int) uint64 {
	s := m.shards[index]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// preserve records the pre-write state of key in every active view that has
// not captured it yet. Caller holds s.mu for writing.
func (s *shard[K, V]) preserve(key K) {
	s.seq++
	if len(s.views) == 0 {
		return
	}
	old, ok := s.items[key]
	for v := range s.views {
		if v.frozen != nil {
			continue
		}
		if _, seen := v.preserved[key]; seen {
			continue
		}
		v.preserved[key] = slot[V]{val: old, ok: ok}
	}
}

// swap installs a new item map, freezing the old one into active views.
// Caller holds s.mu for writing.
func (s *shard[K, V]) swap(items map[K]V) {
	s.seq++
	for v := range s.views {
		if v.frozen == nil {
			v.frozen = s.items
		}
	}
	s.items = items
}
