package cmap

// Range iterates over all key-value pairs.
//
// The callback returns false to stop iteration.
// Note: This acquires locks shard by shard, so the result is not a
// consistent cut. Use Snapshot for that.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns all keys.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Count())
	m.Range(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Update atomically computes a new value for key. When fn returns keep=false
// the key is removed instead.
func (m *Map[K, V]) Update(key K, fn func(value V, exists bool) (V, bool)) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[key]
	next, keep := fn(existing, exists)
	if !keep {
		if exists {
			s.preserve(key)
			delete(s.items, key)
		}
		var zero V
		return zero, false
	}
	s.preserve(key)
	s.items[key] = next
	return next, true
}

// SetIfAbsent sets the value only if the key does not exist.
// Returns true if the value was set, false if the key already exists.
func (m *Map[K, V]) SetIfAbsent(key K, value V) bool {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	s.preserve(key)
	s.items[key] = value
	return true
}

// Pop removes a key and returns its value.
func (m *Map[K, V]) Pop(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.items[key]
	if ok {
		s.preserve(key)
		delete(s.items, key)
	}
	return val, ok
}

// ShardCount returns the number of shards.
func (m *Map[K, V]) ShardCount() int {
	return len(m.shards)
}

// ShardStats describes one shard.
type ShardStats struct {
	Index int
	Count int
	Seq   uint64
	Views int
}

// Stats returns statistics about all shards.
func (m *Map[K, V]) Stats() []ShardStats {
	stats := make([]ShardStats, len(m.shards))
	for i, s := range m.shards {
		s.mu.RLock()
		stats[i] = ShardStats{
			Index: i,
			Count: len(s.items),
			Seq:   s.seq,
			Views: len(s.views),
		}
		s.mu.RUnlock()
	}
	return stats
}
