// Package memory provides the in-memory keyspace for meshkv.
//
// Features:
//
//   - Sharded Storage: entries distributed across cmap shards
//   - Logical Databases: keys are scoped by a database index
//   - Typed Values: string, list, set and hash entries
//   - Consistent Cuts: Snapshot returns copy-on-write views for serialization
//   - Bulk Replace: Replace commits a loaded dataset in one step
//
// Thread Safety:
//
// All operations are thread-safe. Stored entries are immutable; writers
// always install a new entry.
package memory
