// Package cmap provides a concurrent map for the meshkv keyspace.
//
//   - Sharding: power-of-two shard count, murmur3 key routing
//   - Fine-grained Locking: per-shard RWMutex
//   - Snapshots: Snapshot returns a Cut, one copy-on-write View per shard
//
// Usage:
//
//	m := cmap.NewWithShards[string, *domain.Entry](16)
//	m.Set("key", entry)
//
//	cut := m.Snapshot()
//	defer cut.Release()
//	cut.View(0).Range(func(k string, e *domain.Entry) bool { ... })
//
// Views cost nothing until a writer touches a key after the cut; the first
// such write copies the old value into each active view of that shard.
package cmap
