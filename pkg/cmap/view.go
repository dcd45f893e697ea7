package cmap

import "sync"

// rangeBatch bounds how many live entries View.Range reads per lock hold.
const rangeBatch = 256

type slot[V any] struct {
	val V
	ok  bool
}

// Cut is a consistent point-in-time view across every shard of a Map.
type Cut[K ~string, V any] struct {
	views []*View[K, V]
}

// View is the read handle for one shard as of a Cut.
//
// Writers that touch a key after the cut store its previous value in the
// view, so Range reports the cut contents without blocking the shard for
// longer than one batch. A view must be released when no longer needed.
type View[K ~string, V any] struct {
	s     *shard[K, V]
	index int
	seq   uint64

	// Guarded by s.mu.
	preserved map[K]slot[V]
	frozen    map[K]V

	once sync.Once
}

// Snapshot captures a consistent cut of the map. All shard locks are held
// only while one view per shard is registered.
func (m *Map[K, V]) Snapshot() *Cut[K, V] {
	return m.SnapshotFunc(nil)
}

// SnapshotFunc is Snapshot, calling fn while every shard lock is held.
// fn must not touch the map.
func (m *Map[K, V]) SnapshotFunc(fn func()) *Cut[K, V] {
	for _, s := range m.shards {
		s.mu.Lock()
	}
	if fn != nil {
		fn()
	}
	c := &Cut[K, V]{views: make([]*View[K, V], len(m.shards))}
	for i, s := range m.shards {
		v := &View[K, V]{
			s:         s,
			index:     i,
			seq:       s.seq,
			preserved: make(map[K]slot[V]),
		}
		s.views[v] = struct{}{}
		c.views[i] = v
	}
	for _, s := range m.shards {
		s.mu.Unlock()
	}
	return c
}

// Views returns the per-shard views in shard order.
func (c *Cut[K, V]) Views() []*View[K, V] {
	return c.views
}

// View returns the view of shard i.
func (c *Cut[K, V]) View(i int) *View[K, V] {
	return c.views[i]
}

// Release releases every view of the cut.
func (c *Cut[K, V]) Release() {
	for _, v := range c.views {
		v.Release()
	}
}

// Index returns the shard index of the view.
func (v *View[K, V]) Index() int { return v.index }

// Seq returns the shard mutation sequence at the cut.
func (v *View[K, V]) Seq() uint64 { return v.seq }

// Release detaches the view from its shard. Safe to call more than once.
func (v *View[K, V]) Release() {
	v.once.Do(func() {
		v.s.mu.Lock()
		delete(v.s.views, v)
		v.preserved = nil
		v.frozen = nil
		v.s.mu.Unlock()
	})
}

// source returns the map the view reads unchanged keys from.
// Caller holds v.s.mu.
func (v *View[K, V]) source() map[K]V {
	if v.frozen != nil {
		return v.frozen
	}
	return v.s.items
}

// Range calls fn for every key-value pair present in the shard at the cut.
// fn runs without any shard lock held. Returning false stops iteration.
func (v *View[K, V]) Range(fn func(key K, value V) bool) {
	type pair struct {
		k K
		v V
	}

	// Keys written since the cut are served from preserved; everything
	// else is read from the live map in batches.
	v.s.mu.RLock()
	if v.preserved == nil {
		v.s.mu.RUnlock()
		return
	}
	early := make([]pair, 0, len(v.preserved))
	for k, sl := range v.preserved {
		if sl.ok {
			early = append(early, pair{k, sl.val})
		}
	}
	src := v.source()
	pending := make([]K, 0, len(src))
	for k := range src {
		if _, seen := v.preserved[k]; !seen {
			pending = append(pending, k)
		}
	}
	v.s.mu.RUnlock()

	for _, p := range early {
		if !fn(p.k, p.v) {
			return
		}
	}

	batch := make([]pair, 0, rangeBatch)
	for start := 0; start < len(pending); start += rangeBatch {
		end := min(start+rangeBatch, len(pending))
		batch = batch[:0]

		v.s.mu.RLock()
		if v.preserved == nil {
			v.s.mu.RUnlock()
			return
		}
		src := v.source()
		for _, k := range pending[start:end] {
			if sl, seen := v.preserved[k]; seen {
				if sl.ok {
					batch = append(batch, pair{k, sl.val})
				}
				continue
			}
			if val, ok := src[k]; ok {
				batch = append(batch, pair{k, val})
			}
		}
		v.s.mu.RUnlock()

		for _, p := range batch {
			if !fn(p.k, p.v) {
				return
			}
		}
	}
}

// Len returns the number of keys present at the cut.
func (v *View[K, V]) Len() int {
	n := 0
	v.Range(func(K, V) bool {
		n++
		return true
	})
	return n
}
