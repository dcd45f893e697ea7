// Package storage persists the in-memory keyspace as snapshots.
//
// The Coordinator takes a consistent cut of every shard and writes it
// through a backend in one of two formats:
//
//   - rdb: one file holding every shard, named "<name>.rdb"
//   - df: one file per shard plus a manifest, "<base>-NNNN.dfs" and
//     "<base>-summary.dfs"
//
// The manifest is written after every shard file, so its presence marks a
// complete snapshot. Loads decode everything before touching the live
// dataset and then swap it in one step.
//
// Subpackages:
//
//   - memory: the sharded keyspace with copy-on-write read views
//   - snapshot: file formats and naming
//   - backend: local, S3 and badger object storage
//   - schedule: cron and interval triggers
package storage
